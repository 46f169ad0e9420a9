package cli

// validateFlags centralizes common flag combinations to keep behavior consistent.
func validateFlags(globals *Globals, hasWindow bool, dedupe bool) error {
	// a dedupe window without --dedupe silently does nothing; reject it
	if hasWindow && !dedupe {
		return outputErrorCommon(globals, "INVALID_FLAGS", "--window requires --dedupe", "add --dedupe or drop --window")
	}
	// quiet + text is confusing for agents; steer to ndjson
	if globals != nil && globals.Format == "text" && globals.Quiet {
		return outputErrorCommon(globals, "INVALID_FLAGS", "--quiet is only supported with ndjson output", "switch to --format ndjson or drop --quiet")
	}
	return nil
}
