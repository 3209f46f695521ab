package timeline

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

//go:embed schema.cue
var schemaSource string

// Definition is a decoded timeline file.
type Definition struct {
	Name      string
	FrameRate string
	Ports     []PortDef
	Segments  []SegmentDef
}

// PortDef declares one model port.
type PortDef struct {
	Pipe       string
	StreamType string
}

// SegmentDef wires tickets to ports over [Start, End).
type SegmentDef struct {
	Start   time.Duration
	End     time.Duration
	Tickets map[string]TicketDef
}

// TicketDef describes the job a ticket manufactures.
type TicketDef struct {
	Pipeline        string
	Kind            string
	Buffers         []int
	Emit            bool
	ExpectedRuntime time.Duration
	Cost            time.Duration

	// Fail, when set, makes every invocation fail with this message.
	Fail string

	Prerequisites []TicketDef
}

// Decoding targets. CUE decodes through json tags; durations stay strings
// until the whole file has been validated.
type rawTimeline struct {
	Name      string       `json:"name"`
	FrameRate string       `json:"frame_rate"`
	Ports     []rawPort    `json:"ports"`
	Segments  []rawSegment `json:"segments"`
}

type rawPort struct {
	Pipe       string `json:"pipe"`
	StreamType string `json:"stream_type"`
}

type rawSegment struct {
	Start   string               `json:"start"`
	End     string               `json:"end"`
	Tickets map[string]rawTicket `json:"tickets"`
}

type rawTicket struct {
	Pipeline        string      `json:"pipeline"`
	Kind            string      `json:"kind"`
	Buffers         []int       `json:"buffers"`
	Emit            bool        `json:"emit"`
	ExpectedRuntime string      `json:"expected_runtime"`
	Cost            string      `json:"cost"`
	Fail            string      `json:"fail"`
	Prerequisites   []rawTicket `json:"prerequisites"`
}

// Parse decodes a definition from CUE source. filename is used in error
// positions only.
func Parse(filename string, src []byte) (*Definition, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, fromCUE(ErrCodeLoadFailed, err)
	}
	return decode(ctx, v)
}

// Load reads a definition from a .cue file or from the CUE package in a
// directory.
func Load(path string) (*Definition, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &DefinitionError{Code: ErrCodeNotFound, Message: fmt.Sprintf("timeline not found: %s", path)}
	}
	if err != nil {
		return nil, &DefinitionError{Code: ErrCodeNotFound, Message: "access timeline", Err: err}
	}
	if !info.IsDir() {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, &DefinitionError{Code: ErrCodeLoadFailed, Message: "read timeline", Err: err}
		}
		return Parse(path, src)
	}

	files, err := filepath.Glob(filepath.Join(path, "*.cue"))
	if err != nil {
		return nil, &DefinitionError{Code: ErrCodeLoadFailed, Message: "scan directory", Err: err}
	}
	if len(files) == 0 {
		return nil, &DefinitionError{Code: ErrCodeNotFound, Message: fmt.Sprintf("no CUE files found in %s", path)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: path})
	if len(instances) == 0 {
		return nil, &DefinitionError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fromCUE(ErrCodeLoadFailed, inst.Err)
	}
	v := ctx.BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, fromCUE(ErrCodeLoadFailed, err)
	}
	return decode(ctx, v)
}

// decode unifies the "timeline" field of v with the embedded schema.
func decode(ctx *cue.Context, v cue.Value) (*Definition, error) {
	tv := v.LookupPath(cue.ParsePath("timeline"))
	if !tv.Exists() {
		return nil, &DefinitionError{Code: ErrCodeSchema, Field: "timeline", Message: "field is missing", Pos: v.Pos()}
	}
	schema := ctx.CompileString(schemaSource, cue.Filename("timeline/schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fromCUE(ErrCodeLoadFailed, err)
	}
	unified := schema.LookupPath(cue.ParsePath("#Timeline")).Unify(tv)
	if err := unified.Validate(); err != nil {
		return nil, fromCUE(ErrCodeSchema, err)
	}

	var raw rawTimeline
	if err := unified.Decode(&raw); err != nil {
		return nil, fromCUE(ErrCodeSchema, err)
	}
	return raw.definition()
}

func (r rawTimeline) definition() (*Definition, error) {
	def := &Definition{
		Name:      r.Name,
		FrameRate: r.FrameRate,
		Ports:     make([]PortDef, len(r.Ports)),
		Segments:  make([]SegmentDef, 0, len(r.Segments)),
	}
	for i, p := range r.Ports {
		def.Ports[i] = PortDef(p)
	}
	for i, s := range r.Segments {
		field := fmt.Sprintf("segments[%d]", i)
		start, err := parseDuration(field+".start", s.Start)
		if err != nil {
			return nil, err
		}
		end, err := parseDuration(field+".end", s.End)
		if err != nil {
			return nil, err
		}
		seg := SegmentDef{Start: start, End: end, Tickets: make(map[string]TicketDef, len(s.Tickets))}
		for pipe, t := range s.Tickets {
			td, err := t.ticket(field + ".tickets." + pipe)
			if err != nil {
				return nil, err
			}
			seg.Tickets[pipe] = td
		}
		def.Segments = append(def.Segments, seg)
	}
	return def, nil
}

func (r rawTicket) ticket(field string) (TicketDef, error) {
	expected, err := parseDuration(field+".expected_runtime", r.ExpectedRuntime)
	if err != nil {
		return TicketDef{}, err
	}
	cost, err := parseDuration(field+".cost", r.Cost)
	if err != nil {
		return TicketDef{}, err
	}
	td := TicketDef{
		Pipeline:        r.Pipeline,
		Kind:            r.Kind,
		Buffers:         r.Buffers,
		Emit:            r.Emit,
		ExpectedRuntime: expected,
		Cost:            cost,
		Fail:            r.Fail,
	}
	for i, pre := range r.Prerequisites {
		p, err := pre.ticket(fmt.Sprintf("%s.prerequisites[%d]", field, i))
		if err != nil {
			return TicketDef{}, err
		}
		td.Prerequisites = append(td.Prerequisites, p)
	}
	return td, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &DefinitionError{Code: ErrCodeSchema, Field: field, Message: "invalid duration", Err: err}
	}
	return d, nil
}
