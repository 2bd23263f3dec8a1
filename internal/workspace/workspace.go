// Package workspace reads fund definitions from <workspace>/funds/*.yaml.
package workspace

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"

	"github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	"github.com/rxtech-lab/vfunds/internal/simulator"
	"github.com/rxtech-lab/vfunds/internal/types"
	"github.com/rxtech-lab/vfunds/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FundsDir holds the fund definitions of a workspace.
const FundsDir = "funds"

// Options are applied to every loaded fund.
type Options struct {
	// DefaultFrequency is used by funds without a rebalance rule.
	DefaultFrequency string
}

// Entry describes a fund definition file.
type Entry struct {
	ID       string
	Title    string
	Path     string
	// Holdings counts symbols, or member funds of a fund of funds.
	Holdings int
	Err      error
}

// Dir returns the fund directory of a workspace.
func Dir(workspace string) string {
	return filepath.Join(workspace, FundsDir)
}

// Load reads one fund definition. The id defaults to the file name. The
// members of a fund of funds are read from the definition files of the same
// directory named after them.
func Load(path string, opts Options) (types.VirtualFund, error) {
	return load(path, opts, true)
}

func load(path string, opts Options, resolve bool) (types.VirtualFund, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.VirtualFund{}, errors.Wrapf(errors.ErrCodeInvalidFund, err, "failed to read %s", path)
	}

	var fund types.VirtualFund

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fund); err != nil {
		return types.VirtualFund{}, errors.Wrapf(errors.ErrCodeInvalidFund, err, "failed to parse %s", path)
	}

	if fund.ID == "" {
		fund.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	if fund.Rebalance.IsZero() && opts.DefaultFrequency != "" {
		fund.Rebalance = types.RebalanceRule{Kind: types.RebalanceCalendar, Frequency: opts.DefaultFrequency}
	}

	if !fund.Inception.IsZero() {
		fund.Inception = types.Day(fund.Inception)
	}

	if fund.IsFundOfFunds() {
		if !resolve {
			return types.VirtualFund{}, errors.Newf(errors.ErrCodeInvalidFund, "fund of funds %q cannot be a member", fund.ID)
		}

		if err := resolveMembers(filepath.Dir(path), &fund, opts); err != nil {
			return types.VirtualFund{}, err
		}
	}

	if err := fund.Validate(); err != nil {
		return types.VirtualFund{}, err
	}

	if fund.IsFundOfFunds() {
		if _, err := simulator.NewPolicy(fund.Rebalance); err != nil {
			return types.VirtualFund{}, errors.Wrapf(errors.GetCode(err), err, "fund %q", fund.ID)
		}
	}

	for i := range fund.Holdings {
		if _, err := simulator.NewPolicy(fund.RuleFor(i)); err != nil {
			return types.VirtualFund{}, errors.Wrapf(errors.GetCode(err), err, "fund %q", fund.ID)
		}
	}

	return fund, nil
}

// resolveMembers attaches the definition of every member of fund.
func resolveMembers(dir string, fund *types.VirtualFund, opts Options) error {
	fund.Funds = slices.Clone(fund.Funds)

	for i, m := range fund.Funds {
		path, err := definitionFile(dir, m.Fund)
		if err != nil {
			return errors.Wrapf(errors.ErrCodeInvalidFund, err, "fund %q", fund.ID)
		}

		member, err := load(path, opts, false)
		if err != nil {
			return errors.Wrapf(errors.GetCode(err), err, "fund %q: member %s", fund.ID, m.Fund)
		}

		fund.Funds[i].Definition = &member
	}

	return nil
}

// definitionFile finds the definition file of name in dir.
func definitionFile(dir, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", errors.Newf(errors.ErrCodeInvalidFund, "bad member name %q", name)
	}

	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", errors.Newf(errors.ErrCodeInvalidFund, "member %s not found in %s", name, dir)
}

// files returns the definition files of dir sorted by name.
func files(dir string) ([]string, error) {
	var out []string

	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeInvalidParameter, err, "bad fund directory %s", dir)
		}

		out = append(out, matches...)
	}

	slices.Sort(out)

	return out, nil
}

// List describes every definition in dir. Files that fail to load are
// listed with Err set.
func List(dir string, opts Options) ([]Entry, error) {
	paths, err := files(dir)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(paths))

	for _, path := range paths {
		fund, err := Load(path, opts)
		if err != nil {
			entries = append(entries, Entry{
				ID:   strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
				Path: path,
				Err:  err,
			})

			continue
		}

		entries = append(entries, Entry{ID: fund.ID, Title: fund.Title, Path: path, Holdings: len(fund.Holdings) + len(fund.Funds)})
	}

	return entries, nil
}

// LoadAll loads the named funds from dir, or every fund when ids is empty.
// Any invalid definition fails the whole call.
func LoadAll(dir string, ids []string, opts Options) ([]types.VirtualFund, error) {
	paths, err := files(dir)
	if err != nil {
		return nil, err
	}

	var funds []types.VirtualFund

	found := make(map[string]bool, len(ids))

	for _, path := range paths {
		fund, err := Load(path, opts)
		if err != nil {
			return nil, err
		}

		if len(ids) > 0 && !slices.Contains(ids, fund.ID) {
			continue
		}

		found[fund.ID] = true
		funds = append(funds, fund)
	}

	for _, id := range ids {
		if !found[id] {
			return nil, errors.Newf(errors.ErrCodeInvalidFund, "fund %q not found in %s", id, dir)
		}
	}

	if len(funds) == 0 {
		return nil, errors.Newf(errors.ErrCodeBacktestNoFunds, "no fund definitions in %s", dir)
	}

	return funds, nil
}

// Schema returns the JSON schema of a fund definition file.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t.String() == "time.Time" {
				return &jsonschema.Schema{Type: "string", Format: "date"}
			}

			return nil
		},
	}

	schema := reflector.Reflect(&types.VirtualFund{})
	schema.Title = "vfunds-fund"
	schema.Description = "Definition of a virtual fund"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema
}

// SchemaJSON returns the schema as indented JSON.
func SchemaJSON() (string, error) {
	data, err := json.MarshalIndent(Schema(), "", "  ")
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeUnknown, "failed to encode schema", err)
	}

	return string(data), nil
}
