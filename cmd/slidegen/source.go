package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/thywilljoshua/slidegen/internal/invoker"
	"github.com/thywilljoshua/slidegen/internal/workflow"
)

type sourceFlags struct {
	mode  string
	text  string
	topic string
}

// readSource builds the intake source from the positional file argument or
// the --text/--topic flags.
func readSource(args []string, f sourceFlags) (invoker.Source, error) {
	switch {
	case f.text != "" && f.topic != "":
		return invoker.Source{}, fmt.Errorf("--text and --topic are mutually exclusive")
	case f.text != "":
		return invoker.Source{Mode: workflow.ModeText, Text: f.text}, nil
	case f.topic != "":
		return invoker.Source{Mode: workflow.ModeTopic, Text: f.topic}, nil
	}
	if len(args) == 0 {
		return invoker.Source{}, fmt.Errorf("a source file, --text or --topic is required")
	}
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return invoker.Source{}, fmt.Errorf("read source: %w", err)
	}
	name := filepath.Base(path)
	ct := invoker.DetectContentType(name, "", data)
	mode := workflow.Mode(f.mode)
	if mode == "" {
		mode = workflow.ModeDocument
		if strings.HasPrefix(ct, "image/") {
			mode = workflow.ModeImage
		}
	}
	return invoker.Source{Mode: mode, FileName: name, ContentType: ct, Data: data}, nil
}

// parseEdits reads --edit values of the form N=instruction, where N is the
// 1-based slide number.
func parseEdits(values []string) (map[int]string, error) {
	out := make(map[int]string, len(values))
	for _, v := range values {
		num, instr, ok := strings.Cut(v, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --edit %q, want N=instruction", v)
		}
		n, err := strconv.Atoi(strings.TrimSpace(num))
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid slide number in --edit %q", v)
		}
		instr = strings.TrimSpace(instr)
		if instr == "" {
			return nil, fmt.Errorf("empty instruction in --edit %q", v)
		}
		out[n-1] = instr
	}
	return out, nil
}

func editOrder(edits map[int]string) []int {
	idx := make([]int, 0, len(edits))
	for i := range edits {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}
