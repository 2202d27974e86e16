package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/dukex/callflow/pkg/flowfile"
	"github.com/dukex/callflow/pkg/validation"
)

var errValidationFailed = errors.New("validation failed")

// runValidate prints every issue of each file and fails when any file has
// fatal issues, or any issue at all in strict mode.
func runValidate(out io.Writer, paths []string, strict bool) error {
	if len(paths) == 0 {
		return errors.New("no flow files given")
	}

	failed := 0

	for _, path := range paths {
		flow, err := flowfile.Load(path)
		if err != nil {
			return err
		}

		result := validation.Validate(flow)
		fatal := len(result.Fatal()) > 0 || (strict && len(result.Issues) > 0)

		status := "ok"
		if fatal {
			status = "FAIL"
			failed++
		}

		fmt.Fprintf(out, "%s: %s (%d nodes, %d issues)\n", path, status, len(flow.Nodes), len(result.Issues))

		for _, issue := range result.Issues {
			fmt.Fprintf(out, "  %s\n", issue)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d files", errValidationFailed, failed, len(paths))
	}

	return nil
}
