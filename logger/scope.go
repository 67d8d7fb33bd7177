package logger

// ForPipeline scopes a logger to a named pipeline instance. mux, demux,
// handle and replace wrap it with ForFilter for their own log lines, so
// those lines can be traced back to the pipeline that produced them; the
// scoped logger is not passed down to sub-pipelines or clones.
func ForPipeline(log Logger, name string) Logger {
	if log == nil {
		return nil
	}

	return log.With("pipeline", name)
}

// ForFilter further scopes a pipeline-scoped logger to one filter kind
// ("mux", "throttleDataRate", ...) plus its position in the layout.
func ForFilter(log Logger, kind string, index int) Logger {
	if log == nil {
		return nil
	}

	return log.With("filter", kind, "index", index)
}
