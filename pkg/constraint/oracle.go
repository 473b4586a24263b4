package constraint

import (
	"context"

	"github.com/Mindburn-Labs/mplp-conform/pkg/artifact"
)

// Question is what an Oracle is asked to judge: whether one artifact
// satisfies a constraint whose rule text cannot be decided mechanically.
type Question struct {
	Oracle       string
	ConstraintID string
	Rule         string
	Artifact     *artifact.Artifact
	Context      *artifact.Artifact
}

// Judgment is an oracle's answer.
type Judgment struct {
	Holds  bool
	Reason string
}

// Oracle decides semantic constraints. Implementations must be deterministic
// for identical questions or verdict hashes will not be reproducible.
type Oracle interface {
	Judge(ctx context.Context, q Question) (Judgment, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, q Question) (Judgment, error)

func (f OracleFunc) Judge(ctx context.Context, q Question) (Judgment, error) { return f(ctx, q) }
