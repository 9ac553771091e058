// Program reclass resolves one node, or the whole inventory, from a
// filesystem or git-backed class/node hierarchy and emits the result as a
// tree (YAML) or json document.
//
// Usage: reclass --nodeinfo NODE | --inventory [OPTIONS]
//
// Grounded on the teacher's yang.go: a pluggable output-format registry
// (here internal/output) selected with --output, getopt for flag parsing,
// and a stop(code int) indirection over os.Exit so tests can intercept it.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/reclass-go/reclass/internal/config"
	"github.com/reclass-go/reclass/internal/core"
	rerrors "github.com/reclass-go/reclass/internal/errors"
	"github.com/reclass-go/reclass/internal/indent"
	"github.com/reclass-go/reclass/internal/output"
	"github.com/reclass-go/reclass/internal/settings"
	"github.com/reclass-go/reclass/internal/storage"
	"github.com/reclass-go/reclass/internal/storage/cache"
	"github.com/reclass-go/reclass/internal/storage/filesystem"
	"github.com/reclass-go/reclass/internal/storage/vcs"

	"github.com/pborman/getopt"
)

// exitIfError writes err to standard error and stops with its exit code (or
// ExitSoftware if err carries none), mirroring the teacher's exitIfError.
func exitIfError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	code := rerrors.ExitSoftware
	if ce, ok := err.(rerrors.Error); ok {
		code = ce.Code()
	}
	stop(code)
}

var stop = os.Exit

func main() {
	var (
		nodeinfo               string
		inventory              bool
		inventoryBaseURI       string
		nodesURI               string
		classesURI             string
		outputFormat           string
		prettyPrint            = true
		noPrettyPrint          bool
		noRefs                 bool
		ignoreClassNotfound    bool
		ignoreClassNotfoundRx  []string
		help                   bool
	)

	getopt.StringVarLong(&nodeinfo, "nodeinfo", 0, "emit one node's resolved document", "NODE")
	getopt.BoolVarLong(&inventory, "inventory", 0, "emit the whole inventory")
	getopt.StringVarLong(&inventoryBaseURI, "inventory-base-uri", 0, "base directory both nodes/ and classes/ live under", "URI")
	getopt.StringVarLong(&nodesURI, "nodes-uri", 0, "nodes storage location (overrides inventory-base-uri/nodes)", "URI")
	getopt.StringVarLong(&classesURI, "classes-uri", 0, "classes storage location (overrides inventory-base-uri/classes)", "URI")
	getopt.StringVarLong(&outputFormat, "output", 0, "output format: "+strings.Join(output.Names(), ", "), "FORMAT")
	getopt.BoolVarLong(&prettyPrint, "pretty-print", 0, "pretty-print the output (default)")
	getopt.BoolVarLong(&noPrettyPrint, "no-pretty-print", 0, "emit compact output")
	getopt.BoolVarLong(&noRefs, "no-refs", 0, "disable YAML aliases in tree output")
	getopt.BoolVarLong(&ignoreClassNotfound, "ignore-class-notfound", 0, "suppress ClassNotFound instead of aborting")
	getopt.ListVarLong(&ignoreClassNotfoundRx, "ignore-class-notfound-regexp", 0, "only suppress ClassNotFound for class names matching one of these regexps", "REGEXP[,REGEXP...]")
	getopt.BoolVarLong(&help, "help", '?', "display help")
	getopt.SetParameters("")

	if err := getopt.Getopt(func(o getopt.Option) bool { return true }); err != nil {
		fmt.Fprintln(os.Stderr, err)
		getopt.PrintUsage(os.Stderr)
		stop(rerrors.ExitUsage)
		return
	}
	if help {
		getopt.CommandLine.PrintUsage(os.Stderr)
		fmt.Fprintln(os.Stderr, "\nOutput formats:")
		iw := indent.NewWriter(os.Stderr, "    ")
		for _, name := range output.Names() {
			fmt.Fprintf(iw, "%s - %s\n", name, output.Lookup(name).Help)
		}
		stop(rerrors.ExitOK)
		return
	}

	if (nodeinfo == "") == !inventory {
		exitIfError(rerrors.NewInvalidOptionError("exactly one of --nodeinfo NODE or --inventory must be given"))
		return
	}

	if inventoryBaseURI == "" {
		inventoryBaseURI = "."
	}

	st := settings.New()
	st.IgnoreClassNotFound = ignoreClassNotfound
	st.IgnoreClassNotFoundRegexps = ignoreClassNotfoundRx

	// The config file only fills in flags the user left unset: CLI flags
	// take precedence over it, and its defaults take precedence over the
	// hardcoded inventoryBaseURI/nodes,classes/tree fallbacks below. The one
	// exception is the config's pretty_print, which replaces the
	// --pretty-print value; --no-pretty-print is applied afterwards and so
	// wins over it.
	if cfgPath := config.Locate(inventoryBaseURI); cfgPath != "" {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			exitIfError(err)
			return
		}
		applyConfig(cfg, &st, &nodesURI, &classesURI, &outputFormat, &prettyPrint)
	}
	if noPrettyPrint {
		prettyPrint = false
	}

	if nodesURI == "" {
		nodesURI = inventoryBaseURI + "/" + settings.DefaultNodesURI
	}
	if classesURI == "" {
		classesURI = inventoryBaseURI + "/" + settings.DefaultClassesURI
	}
	if outputFormat == "" {
		outputFormat = "tree"
	}
	if output.Lookup(outputFormat) == nil {
		exitIfError(rerrors.NewInvalidOptionError(fmt.Sprintf("%s: invalid output format. Choices are %s", outputFormat, strings.Join(output.Names(), ", "))))
		return
	}

	ctx := context.Background()
	backend, err := openBackend(ctx, nodesURI, classesURI, st)
	if err != nil {
		exitIfError(err)
		return
	}

	c := core.New(cache.New(backend), nil, nil, st)

	var doc map[string]any
	if nodeinfo != "" {
		doc, err = c.NodeInfo(ctx, nodeinfo)
	} else {
		doc, err = c.Inventory(ctx)
	}
	if err != nil {
		exitIfError(err)
		return
	}

	// internal/output's tree formatter always disables YAML aliases;
	// --no-refs is accepted for CLI compatibility but has no further effect.
	_ = noRefs

	rendered, err := output.Render(outputFormat, doc, prettyPrint)
	if err != nil {
		exitIfError(err)
		return
	}
	os.Stdout.Write(rendered)
}

// openBackend returns the plain filesystem backend, since the reference
// implementation's default storage_type (yaml_fs) is what every shown
// example inventory uses; a URI scheme prefix of "git://" selects the
// vcs backend instead, with nodesURI and classesURI (sans scheme) naming
// the node and class repositories and nodes read at vcs.DefaultNodesRef.
func openBackend(ctx context.Context, nodesURI, classesURI string, st settings.Settings) (storage.Backend, error) {
	const gitScheme = "git://"
	if strings.HasPrefix(nodesURI, gitScheme) || strings.HasPrefix(classesURI, gitScheme) {
		return vcs.New(ctx, strings.TrimPrefix(nodesURI, gitScheme), strings.TrimPrefix(classesURI, gitScheme), vcs.DefaultNodesRef, st)
	}
	return filesystem.New(nodesURI, classesURI, st)
}

// applyConfig fills in any of nodesURI/classesURI/outputFormat and the
// class-not-found regexps the caller left at its zero value, i.e. the user
// didn't pass the corresponding CLI flag; such a flag, once given, wins
// over the config file. A pretty_print set in the config file always
// replaces *prettyPrint, and ignore_class_notfound can only turn the
// setting on.
func applyConfig(cfg *config.File, st *settings.Settings, nodesURI, classesURI, outputFormat *string, prettyPrint *bool) {
	if *nodesURI == "" && cfg.NodesURI != "" {
		*nodesURI = cfg.NodesURI
	}
	if *classesURI == "" && cfg.ClassesURI != "" {
		*classesURI = cfg.ClassesURI
	}
	if *outputFormat == "" && cfg.Output != "" {
		*outputFormat = cfg.Output
	}
	if cfg.PrettyPrint != nil {
		*prettyPrint = *cfg.PrettyPrint
	}
	if cfg.DefaultEnvironment != "" {
		st.DefaultEnvironment = cfg.DefaultEnvironment
	}
	if cfg.IgnoreClassNotfound {
		st.IgnoreClassNotFound = true
	}
	if len(st.IgnoreClassNotFoundRegexps) == 0 && len(cfg.IgnoreClassNotfoundRegexp) > 0 {
		st.IgnoreClassNotFoundRegexps = cfg.IgnoreClassNotfoundRegexp
	}
}
