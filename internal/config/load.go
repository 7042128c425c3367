package config

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// LoadMode controls how errors are handled during loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Load reads every CUE file in dir, decodes the configuration and runs
// semantic validation (see Validate).
//
// A nil Config with errors means the directory could not be loaded at
// all. A non-nil Config with errors means it loaded but is invalid.
func Load(dir string, mode LoadMode) (*Config, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{errorf(ErrCodeNotFound, token.NoPos, "config directory not found: %s", dir)}
	}
	if err != nil {
		return nil, []error{errorf(ErrCodeNotFound, token.NoPos, "error accessing config directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, []error{errorf(ErrCodeNotFound, token.NoPos, "not a directory: %s", dir)}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{errorf(ErrCodeScanError, token.NoPos, "error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return nil, []error{errorf(ErrCodeNoFiles, token.NoPos, "no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{errorf(ErrCodeLoadFailed, token.NoPos, "no CUE instances loaded")}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{cueError(ErrCodeLoadFailed, "loading CUE files", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{cueError(ErrCodeBuildFailed, "building CUE value", err)}
	}
	// Err only reports a bottom root; conflicts inside fields need Validate.
	if err := value.Validate(); err != nil {
		return nil, []error{cueError(ErrCodeBuildFailed, "validating CUE value", err)}
	}

	return Decode(value, dir, mode, len(cueFiles))
}

// Decode extracts a Config from an already-built CUE value. dir is used
// to resolve relative engine configuration paths.
func Decode(value cue.Value, dir string, mode LoadMode, fileCount int) (*Config, []error) {
	d := &decoder{mode: mode}
	cfg := &Config{
		Dir:       dir,
		FileCount: fileCount,
		CUEValue:  value,
	}

	steps := []func(){
		func() { cfg.Sessions = d.sessions(value.LookupPath(cue.ParsePath("session")), dir) },
		func() { cfg.WireTaps = d.wireTaps(value.LookupPath(cue.ParsePath("wiretap"))) },
		func() { cfg.Taps = d.taps(value.LookupPath(cue.ParsePath("tap"))) },
		func() { cfg.Channels = d.channels(value.LookupPath(cue.ParsePath("channel"))) },
	}
	for _, step := range steps {
		step()
		if d.stop() {
			return cfg, d.errs
		}
	}

	for _, err := range Validate(cfg) {
		d.add(err)
		if d.stop() {
			break
		}
	}
	return cfg, d.errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// cueError converts a CUE error, keeping the first position CUE reports.
func cueError(code, context string, err error) *LoadError {
	pos := token.NoPos
	if errs := cueerrors.Errors(err); len(errs) > 0 {
		if positions := cueerrors.Positions(errs[0]); len(positions) > 0 {
			pos = positions[0]
		}
	}
	return errorf(code, pos, "%s: %v", context, err)
}

type decoder struct {
	mode LoadMode
	errs []error
}

func (d *decoder) add(err error) {
	d.errs = append(d.errs, err)
}

func (d *decoder) stop() bool {
	return d.mode == LoadModeFailFast && len(d.errs) > 0
}

func (d *decoder) fields(v cue.Value, what string) *cue.Iterator {
	iter, err := v.Fields()
	if err != nil {
		d.add(errorf(ErrCodeFieldType, v.Pos(), "%s must be a struct: %v", what, err))
		return nil
	}
	return iter
}

func (d *decoder) sessions(v cue.Value, dir string) []Session {
	if !v.Exists() {
		return nil
	}
	iter := d.fields(v, "session")
	if iter == nil {
		return nil
	}

	var out []Session
	for iter.Next() {
		sv := iter.Value()
		s := Session{Name: iter.Label(), Pos: sv.Pos()}
		path := "session." + s.Name

		if cv := sv.LookupPath(cue.ParsePath("configuration")); cv.Exists() {
			s.Configuration = d.str(cv, path+".configuration")
			if s.Configuration != "" && !filepath.IsAbs(s.Configuration) {
				s.Configuration = filepath.Join(dir, s.Configuration)
			}
		}
		s.Unmatched = d.strs(sv.LookupPath(cue.ParsePath("unmatched")), path+".unmatched")
		s.Statements = d.statements(sv.LookupPath(cue.ParsePath("statement")), path)

		out = append(out, s)
		if d.stop() {
			break
		}
	}
	return out
}

func (d *decoder) statements(v cue.Value, sessionPath string) []Statement {
	if !v.Exists() {
		return nil
	}
	iter := d.fields(v, sessionPath+".statement")
	if iter == nil {
		return nil
	}

	var out []Statement
	for iter.Next() {
		stv := iter.Value()
		st := Statement{ID: iter.Label(), Pos: stv.Pos()}
		path := fmt.Sprintf("%s.statement.%s", sessionPath, st.ID)

		qv := stv.LookupPath(cue.ParsePath("query"))
		if qv.Exists() {
			st.Query = d.str(qv, path+".query")
		}
		st.Listeners = d.strs(stv.LookupPath(cue.ParsePath("listeners")), path+".listeners")

		out = append(out, st)
		if d.stop() {
			break
		}
	}
	return out
}

func (d *decoder) wireTaps(v cue.Value) []WireTap {
	if !v.Exists() {
		return nil
	}
	iter := d.fields(v, "wiretap")
	if iter == nil {
		return nil
	}

	var out []WireTap
	for iter.Next() {
		wv := iter.Value()
		w := WireTap{Name: iter.Label(), Pos: wv.Pos()}
		path := "wiretap." + w.Name

		if sv := wv.LookupPath(cue.ParsePath("session")); sv.Exists() {
			w.Session = d.str(sv, path+".session")
		}
		if bv := wv.LookupPath(cue.ParsePath("send_context")); bv.Exists() {
			b, err := bv.Bool()
			if err != nil {
				d.add(errorf(ErrCodeFieldType, bv.Pos(), "%s.send_context must be a bool", path))
			}
			w.SendContext = b
		}

		out = append(out, w)
		if d.stop() {
			break
		}
	}
	return out
}

func (d *decoder) taps(v cue.Value) []Tap {
	if !v.Exists() {
		return nil
	}
	iter, err := v.List()
	if err != nil {
		d.add(errorf(ErrCodeFieldType, v.Pos(), "tap must be a list: %v", err))
		return nil
	}

	var out []Tap
	for i := 0; iter.Next(); i++ {
		tv := iter.Value()
		t := Tap{Pos: tv.Pos()}
		path := fmt.Sprintf("tap[%d]", i)

		if pv := tv.LookupPath(cue.ParsePath("pattern")); pv.Exists() {
			t.Pattern = d.str(pv, path+".pattern")
		}
		if wv := tv.LookupPath(cue.ParsePath("wiretap")); wv.Exists() {
			t.WireTap = d.str(wv, path+".wiretap")
		}

		out = append(out, t)
		if d.stop() {
			break
		}
	}
	return out
}

func (d *decoder) channels(v cue.Value) []Channel {
	if !v.Exists() {
		return nil
	}
	iter, err := v.List()
	if err != nil {
		d.add(errorf(ErrCodeFieldType, v.Pos(), "channel must be a list of names: %v", err))
		return nil
	}

	var out []Channel
	for i := 0; iter.Next(); i++ {
		cv := iter.Value()
		out = append(out, Channel{Name: d.str(cv, fmt.Sprintf("channel[%d]", i)), Pos: cv.Pos()})
		if d.stop() {
			break
		}
	}
	return out
}

func (d *decoder) str(v cue.Value, path string) string {
	s, err := v.String()
	if err != nil {
		d.add(errorf(ErrCodeFieldType, v.Pos(), "%s must be a string", path))
		return ""
	}
	return s
}

func (d *decoder) strs(v cue.Value, path string) []string {
	if !v.Exists() {
		return nil
	}
	iter, err := v.List()
	if err != nil {
		d.add(errorf(ErrCodeFieldType, v.Pos(), "%s must be a list of strings", path))
		return nil
	}
	var out []string
	for i := 0; iter.Next(); i++ {
		out = append(out, d.str(iter.Value(), fmt.Sprintf("%s[%d]", path, i)))
	}
	return out
}
