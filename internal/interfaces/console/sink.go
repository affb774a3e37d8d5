package console

import (
	"fmt"
	"time"

	"farb/internal/application/port"
)

type Sink struct{}

func NewSink() port.Sink { return &Sink{} }

func (s *Sink) WriteReport(ts time.Time, report string) error {
	fmt.Printf("\n%s\n%s\n", ts.Format("2006-01-02 15:04:05"), report)
	return nil
}
