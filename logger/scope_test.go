package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForPipelineAndForFilterAddFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewSlog(WithTextHandler(&buf, slog.LevelInfo))

	scoped := ForFilter(ForPipeline(base, "demux-entry"), "throttleDataRate", 2)
	scoped.Info("bucket drained")

	output := buf.String()
	assert.Contains(t, output, "pipeline=demux-entry")
	assert.Contains(t, output, "filter=throttleDataRate")
	assert.Contains(t, output, "index=2")
}

func TestForPipelineNilLoggerIsNoop(t *testing.T) {
	assert.Nil(t, ForPipeline(nil, "x"))
	assert.Nil(t, ForFilter(nil, "x", 0))
}
