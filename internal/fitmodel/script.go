package fitmodel

import (
	"fmt"
	"strconv"
	"strings"
)

// ConfigureFitParameters applies a ';'-separated list of parameter commands:
//
//	value[name]=v          set the value
//	error[name]=v          set the error estimate
//	fix[name]=v            set the value and fix it
//	fix[name]              fix at the current value
//	release[name]          let the parameter float
//	prior[name]=c,w        attach a Gaussian prior
//
// Commands are applied in order; the first failing command aborts.
func (m *Model) ConfigureFitParameters(script string) error {
	for _, raw := range strings.Split(script, ";") {
		cmd := strings.TrimSpace(raw)
		if cmd == "" {
			continue
		}
		if err := m.applyCommand(cmd); err != nil {
			return fmt.Errorf("fitmodel: command %q: %w", cmd, err)
		}
	}
	return nil
}

func (m *Model) applyCommand(cmd string) error {
	open := strings.Index(cmd, "[")
	closing := strings.LastIndex(cmd, "]")
	if open <= 0 || closing < open {
		return fmt.Errorf("expected verb[name]")
	}
	verb := strings.TrimSpace(cmd[:open])
	name := strings.TrimSpace(cmd[open+1 : closing])
	rest := strings.TrimSpace(cmd[closing+1:])
	var arg string
	hasArg := false
	if rest != "" {
		if !strings.HasPrefix(rest, "=") {
			return fmt.Errorf("expected '=' after %s[%s]", verb, name)
		}
		arg = strings.TrimSpace(rest[1:])
		hasArg = true
	}

	switch verb {
	case "value", "error":
		if !hasArg {
			return fmt.Errorf("%s requires a value", verb)
		}
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", verb, arg, err)
		}
		if verb == "value" {
			return m.SetParameterValue(name, v)
		}
		return m.SetParameterError(name, v)
	case "fix":
		if hasArg {
			v, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				return fmt.Errorf("invalid fix value %q: %w", arg, err)
			}
			if err := m.SetParameterValue(name, v); err != nil {
				return err
			}
		}
		return m.FixParameter(name)
	case "release":
		if hasArg {
			return fmt.Errorf("release takes no value")
		}
		return m.ReleaseParameter(name)
	case "prior":
		parts := strings.Split(arg, ",")
		if !hasArg || len(parts) != 2 {
			return fmt.Errorf("prior requires center,width")
		}
		center, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return fmt.Errorf("invalid prior center %q: %w", parts[0], err)
		}
		width, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return fmt.Errorf("invalid prior width %q: %w", parts[1], err)
		}
		return m.SetPrior(name, center, width)
	default:
		return fmt.Errorf("unknown verb %q", verb)
	}
}
