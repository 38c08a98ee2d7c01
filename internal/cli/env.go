package cli

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// overrideVars name env files that win over the --env flag, in order.
var overrideVars = []string{"EVENTMERGE_ENV_FILE", "HORSE_ENV_FILE"}

// EnvLoader loads one .env file chosen from the override variables, the
// --env flag, its basename, and finally the default path.
type EnvLoader struct {
	value       *string
	defaultPath string
}

type envCandidate struct {
	path  string
	label string
}

// AddEnvFlag registers an --env flag and returns an EnvLoader.
func AddEnvFlag(fs *flag.FlagSet, defaultPath, description string) *EnvLoader {
	if fs == nil {
		fs = flag.CommandLine
	}
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if description == "" {
		description = "Path to the .env file"
	}

	return &EnvLoader{
		value:       fs.String("env", defaultPath, description),
		defaultPath: defaultPath,
	}
}

// Load applies the first candidate file that loads and returns its path. It
// returns "" and no error when only the default was requested and it does not
// exist, since configuration may come from the process environment alone.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}

	log.SetOutput(os.Stderr)

	for _, candidate := range l.candidates() {
		if err := godotenv.Overload(candidate.path); err != nil {
			if strings.HasSuffix(candidate.label, "_ENV_FILE") {
				log.Printf("Warning: failed to load %s=%s", candidate.label, candidate.path)
			}
			continue
		}
		log.Printf("Loaded environment from %s: %s", candidate.label, candidate.path)
		return candidate.path, nil
	}

	requested := l.requested()
	if requested == l.defaultPath && !fileExists(requested) {
		return "", nil
	}
	return "", fmt.Errorf("failed to load env file from %s", requested)
}

func (l *EnvLoader) requested() string {
	if l.value != nil {
		if requested := strings.TrimSpace(*l.value); requested != "" {
			return requested
		}
	}
	return l.defaultPath
}

func (l *EnvLoader) candidates() []envCandidate {
	var out []envCandidate
	for _, envVar := range overrideVars {
		if custom := strings.TrimSpace(os.Getenv(envVar)); custom != "" {
			out = append(out, envCandidate{path: custom, label: envVar})
		}
	}

	requested := l.requested()
	out = append(out, envCandidate{path: requested, label: "--env"})
	if base := filepath.Base(requested); base != "" && base != requested {
		out = append(out, envCandidate{path: base, label: "basename fallback"})
	}
	if requested != l.defaultPath {
		out = append(out, envCandidate{path: l.defaultPath, label: "default fallback"})
	}
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
