// Package projecttype implements the dev-server project-type heuristic as
// its own independently composable component, kept separate from the
// coordinator rather than inlined into it.
package projecttype

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Detection is the result of probing a directory for a project type.
type Detection struct {
	Detected         bool
	Type             string
	ConfigFile       string
	SuggestedCommand string
}

type marker struct {
	file    string
	typ     string
	command string
}

// probeOrder is walked in order; the first matching marker file wins.
var probeOrder = []marker{
	{"package.json", "node", "npm run dev"},
	{"Cargo.toml", "rust", "cargo run"},
	{"go.mod", "go", "go run ."},
	{"requirements.txt", "python", "python -m pytest"},
	{"Pipfile", "python", "python -m pytest"},
	// preserved as specified: pyproject.toml maps to test-running rather than
	// serving, since changing it may alter downstream expectations.
	{"pyproject.toml", "python", "python -m pytest"},
	{"Gemfile", "ruby", "bundle exec rails server"},
	{"pom.xml", "java", "mvn spring-boot:run"},
	{"build.gradle", "java", "./gradlew bootRun"},
	{"composer.json", "php", "php artisan serve"},
}

type packageJSON struct {
	Scripts      map[string]string `json:"scripts"`
	Dependencies map[string]string `json:"dependencies"`
}

// scriptPreference is the order package.json's scripts map is checked in.
var scriptPreference = []string{"dev", "start", "serve", "develop", "watch"}

// frameworkMarkers maps a dependency name to the command its presence
// suggests, checked only when no preferred script is present.
var frameworkMarkers = []struct {
	dependency string
	command    string
}{
	{"next", "npm run dev"},
	{"vite", "npm run dev"},
	{"react-scripts", "npm start"},
}

// Detect probes dir for a known project marker, in probeOrder, and
// returns a suggested command to start its dev server.
func Detect(dir string) Detection {
	for _, m := range probeOrder {
		path := filepath.Join(dir, m.file)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if m.file == "package.json" {
			return detectNode(path, m.typ)
		}
		return Detection{Detected: true, Type: m.typ, ConfigFile: m.file, SuggestedCommand: m.command}
	}
	return Detection{Detected: false}
}

func detectNode(path, typ string) Detection {
	det := Detection{Detected: true, Type: typ, ConfigFile: "package.json", SuggestedCommand: "npm run dev"}

	data, err := os.ReadFile(path)
	if err != nil {
		return det
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return det
	}

	for _, script := range scriptPreference {
		if _, ok := pkg.Scripts[script]; ok {
			det.SuggestedCommand = "npm run " + script
			return det
		}
	}

	for _, fw := range frameworkMarkers {
		if _, ok := pkg.Dependencies[fw.dependency]; ok {
			det.SuggestedCommand = fw.command
			return det
		}
	}

	return det
}
