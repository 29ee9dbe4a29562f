package stage

import "context"

// Worker is a long-running pipeline loop: one collector per unit, plus the
// verification, storage, and statistics stages. Run returns only when ctx is
// cancelled or the loop hit an error the supervisor should restart it for.
type Worker interface {
	Name() string
	Run(ctx context.Context) error
}
