package statusreporter

import (
	"fmt"

	"github.com/nomis52/embedflow/errorreport"
	"github.com/nomis52/embedflow/workflow"
)

// RecordError runs f and, if it fails, records the first line of the failure
// as the stage status.
//
//	func (s *EmbedURLStage) Execute(ctx context.Context) error {
//	    return statusreporter.RecordError(s, s.Status, func() error {
//	        ...
//	    })
//	}
func RecordError(stage workflow.Stage, sr *StatusReporter, f func() error) error {
	if err := f(); err != nil {
		lines := errorreport.LinesOf(err)
		sr.SetStatus(stage, fmt.Sprintf("❌ %s", lines[len(lines)-1]))
		return err
	}
	return nil
}
