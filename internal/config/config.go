// Package config loads the on-disk configuration file (§6, "Environment
// variables"): a RECLASS_CONFIG env var pointing directly at a file, or a
// fixed search path (working directory, user home, inventory base,
// executable's directory), first match wins.
//
// Grounded on the reference implementation's reclass/defaults.py
// (CONFIG_FILE_SEARCH_PATH, CONFIG_FILE_NAME, the OPT_* defaults this
// package's File mirrors as zero-value-friendly fields).
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// EnvVar is the environment variable pointing directly at a config file,
// bypassing the search path entirely when set.
const EnvVar = "RECLASS_CONFIG"

// FileName is the config file's name within each search-path directory.
const FileName = "reclass-config.yml"

// File is the decoded shape of a config file. Every field is optional; a
// zero value leaves the corresponding CLI/Settings default untouched.
type File struct {
	StorageType       string   `yaml:"storage_type"`
	InventoryBaseURI  string   `yaml:"inventory_base_uri"`
	NodesURI          string   `yaml:"nodes_uri"`
	ClassesURI        string   `yaml:"classes_uri"`
	PrettyPrint       *bool    `yaml:"pretty_print"`
	NoRefs            *bool    `yaml:"no_refs"`
	Output            string   `yaml:"output"`
	DefaultEnvironment string  `yaml:"default_environment"`
	IgnoreClassNotfound bool   `yaml:"ignore_class_notfound"`
	IgnoreClassNotfoundRegexp []string `yaml:"ignore_class_notfound_regexp"`
}

// Locate returns the path to the config file that would be loaded: the
// RECLASS_CONFIG env var's value if set (regardless of whether that path
// exists — a missing explicit path is the caller's error to report),
// otherwise the first of cwd, $HOME, inventoryBaseURI, and the running
// executable's directory that contains a FileName file. Locate returns ""
// if none of the search-path candidates exist and RECLASS_CONFIG is unset.
func Locate(inventoryBaseURI string) string {
	if explicit := os.Getenv(EnvVar); explicit != "" {
		return explicit
	}
	for _, dir := range searchPath(inventoryBaseURI) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, FileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

func searchPath(inventoryBaseURI string) []string {
	cwd, _ := os.Getwd()
	home, _ := os.UserHomeDir()
	exeDir := ""
	if exe, err := os.Executable(); err == nil {
		exeDir = filepath.Dir(exe)
	}
	return []string{cwd, home, inventoryBaseURI, exeDir}
}

// Load reads and decodes the config file at path. A nil *File with a nil
// error is never returned; callers that want "no config" should check
// Locate's result for "" before calling Load.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
