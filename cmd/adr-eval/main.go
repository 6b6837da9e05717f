package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-adr/pkg/adr"
)

// request is a HandleRequest with an optional algorithm selector
type request struct {
	Algorithm string `json:"algorithm,omitempty"`
	adr.HandleRequest
}

func main() {
	var file = flag.String("file", "-", "请求 JSON 文件, - 表示标准输入")
	var algorithm = flag.String("algorithm", adr.SlowHandlerID, "ADR 算法 ID")
	var margin = flag.Float64("margin", adr.DefaultInstallationMargin, "SNR 安全余量 (dB)")
	var list = flag.Bool("list", false, "列出可用的 ADR 算法")
	var pretty = flag.Bool("pretty", false, "格式化输出")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	registry := adr.DefaultRegistry(*margin)

	if *list {
		for _, h := range registry.List() {
			fmt.Printf("%s\t%s\n", h.ID(), h.Name())
		}
		return
	}

	if err := run(registry, *file, *algorithm, *pretty, os.Stdin, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("ADR 评估失败")
	}
}

// run evaluates one request read from file (or in for "-") and writes the response
func run(registry *adr.Registry, file, algorithm string, pretty bool, in io.Reader, out io.Writer) error {
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("open request: %w", err)
		}
		defer f.Close()
		in = f
	}

	var req request
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}

	if req.Algorithm != "" {
		algorithm = req.Algorithm
	}

	handler, err := registry.Get(algorithm)
	if err != nil {
		return err
	}

	resp := handler.Handle(req.HandleRequest)

	enc := json.NewEncoder(out)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(resp)
}
