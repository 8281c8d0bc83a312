package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	ethcompiler "github.com/ethereum/go-ethereum/common/compiler"
	"go.uber.org/zap"

	"crossrelay/types"
)

var ErrCompilation = errors.New("compilation failed")

var pragmaRe = regexp.MustCompile(`pragma\s+solidity\s+([^;]+);`)

// VersionSpec is the compiler requirement declared by a source's pragma
type VersionSpec struct {
	Raw        string
	Constraint *semver.Constraints
}

func (v *VersionSpec) String() string {
	if v == nil {
		return ""
	}
	return v.Raw
}

// ExtractVersion reads the first solidity pragma of source
func ExtractVersion(source string) (*VersionSpec, error) {
	m := pragmaRe.FindStringSubmatch(source)
	if m == nil {
		return nil, fmt.Errorf("%w: no solidity pragma found", ErrCompilation)
	}

	raw := strings.TrimSpace(m[1])
	c, err := semver.NewConstraint(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: pragma %q: %v", ErrCompilation, raw, err)
	}
	return &VersionSpec{Raw: raw, Constraint: c}, nil
}

// Solc compiles through a solc binary. With Dir set, binaries named solc-<version>
// (or solc-v<version>) in it are matched against the pragma; otherwise Path is used.
type Solc struct {
	Path   string
	Dir    string
	Logger *zap.Logger
}

func NewSolc(path, dir string, logger *zap.Logger) *Solc {
	if path == "" {
		path = "solc"
	}
	return &Solc{Path: path, Dir: dir, Logger: logger.With(zap.String("component", "solc"))}
}

func (s *Solc) ExtractVersion(source string) (*VersionSpec, error) {
	return ExtractVersion(source)
}

func (s *Solc) binary(version *VersionSpec) (string, error) {
	if s.Dir == "" || version == nil {
		return s.Path, nil
	}

	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return "", fmt.Errorf("%w: listing %s: %v", ErrCompilation, s.Dir, err)
	}

	type candidate struct {
		version *semver.Version
		path    string
	}
	var found []candidate
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "solc-") {
			continue
		}
		v, err := semver.NewVersion(strings.TrimPrefix(strings.TrimPrefix(name, "solc-"), "v"))
		if err != nil {
			continue
		}
		if version.Constraint.Check(v) {
			found = append(found, candidate{v, filepath.Join(s.Dir, name)})
		}
	}
	if len(found) == 0 {
		return "", fmt.Errorf("%w: no solc in %s satisfies %s", ErrCompilation, s.Dir, version)
	}

	sort.Slice(found, func(i, j int) bool { return found[i].version.GreaterThan(found[j].version) })
	return found[0].path, nil
}

// Compile builds declaredName out of source and names the artifact deployName
func (s *Solc) Compile(ctx context.Context, source, declaredName, deployName string, version *VersionSpec) (*types.Artifact, error) {
	bin, err := s.binary(version)
	if err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "--combined-json", "abi,bin", "-")
	cmd.Stdin = strings.NewReader(source)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v: %s", ErrCompilation, bin, declaredName, err, strings.TrimSpace(stderr.String()))
	}

	contracts, err := ethcompiler.ParseCombinedJSON(stdout.Bytes(), source, "", version.String(), "")
	if err != nil {
		return nil, fmt.Errorf("%w: parsing solc output: %v", ErrCompilation, err)
	}

	for key, c := range contracts {
		if key != declaredName && !strings.HasSuffix(key, ":"+declaredName) {
			continue
		}
		abiJSON, err := json.Marshal(c.Info.AbiDefinition)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding abi of %s: %v", ErrCompilation, declaredName, err)
		}
		s.Logger.Debug("compiled contract", zap.String("contract", declaredName), zap.String("solc", bin))
		return &types.Artifact{Name: deployName, ABI: string(abiJSON), Bytecode: c.Code}, nil
	}
	return nil, fmt.Errorf("%w: contract %s not found in solc output", ErrCompilation, declaredName)
}
