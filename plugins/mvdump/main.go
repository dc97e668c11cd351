// Package main provides a decoder plugin that replays recorded motion-field
// dumps in the mvec exchange format.
package main

import (
	"fmt"
	"os"

	"github.com/ayusman/egomotion/internal/decode"
	"github.com/ayusman/egomotion/internal/pipeline"
	"github.com/ayusman/egomotion/internal/plugin"
)

func main() {
	os.Exit(plugin.Serve(plugin.ServeConfig{
		Name:    "mvdump",
		Version: "1.0",
		NewDecoder: func(args []string) (pipeline.Decoder, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("usage: mvdump <file.mvec>")
			}
			return decode.OpenMvec(args[0])
		},
	}))
}
