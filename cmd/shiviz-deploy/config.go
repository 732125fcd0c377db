package main

import (
	"fmt"
	"io/ioutil"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/eteu-technologies/shiviz-deployer/internal/deploy"
)

type DeployerConfig struct {
	SourceDir string        `yaml:"source-dir"`
	Targets   TargetsConfig `yaml:"targets"`
	DocGen    []string      `yaml:"docgen"`

	EntryHTML           string   `yaml:"entry-html"`
	DevScriptRef        string   `yaml:"dev-script-ref"`
	DeployedScriptRef   string   `yaml:"deployed-script-ref"`
	DeployedScript      string   `yaml:"deployed-script"`
	RevisionPlaceholder string   `yaml:"revision-placeholder"`
	SweepPatterns       []string `yaml:"sweep-patterns"`
	CommitMessage       string   `yaml:"commit-message"`

	Minify MinifyConfig `yaml:"minify"`
}

type TargetsConfig struct {
	Dev  string `yaml:"dev"`
	Prod string `yaml:"prod"`
}

type MinifyConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Endpoint        string        `yaml:"endpoint"`
	Timeout         time.Duration `yaml:"timeout"`
	CodeBaseURL     string        `yaml:"code-base-url"`
	LocalScriptsDir string        `yaml:"local-scripts-dir"`
	ScriptsDir      string        `yaml:"scripts-dir"`
	DevMarker       string        `yaml:"dev-marker"`
	Output          string        `yaml:"output"`
	MinSize         int           `yaml:"min-size"`
}

// DefaultConfig describes the ShiViz site layout.
func DefaultConfig() *DeployerConfig {
	return &DeployerConfig{
		SourceDir: "./",
		Targets: TargetsConfig{
			Dev:  "../bestchai.bitbucket.org/shiviz-dev/",
			Prod: "../bestchai.bitbucket.org/shiviz/",
		},
		DocGen:              []string{"perl", "docgen.pl"},
		EntryHTML:           "index.html",
		DevScriptRef:        `"js/dev.js"`,
		DeployedScriptRef:   `"js/deployed.js"`,
		DeployedScript:      "js/deployed.js",
		RevisionPlaceholder: "revision: ZZZ",
		SweepPatterns:       []string{"#", "~", ".orig"},
		CommitMessage:       "shiviz auto-deployment",
		Minify: MinifyConfig{
			Endpoint:        "https://closure-compiler.appspot.com/compile",
			CodeBaseURL:     "https://bitbucket.org/bestchai/shiviz/raw/",
			LocalScriptsDir: "local_scripts",
			ScriptsDir:      "js",
			DevMarker:       "dev.js",
			Output:          "js/min.js",
			MinSize:         500,
		},
	}
}

// LoadConfig reads configFile over the defaults. An empty path yields the
// defaults unchanged.
func LoadConfig(configFile string) (cfg *DeployerConfig, err error) {
	config := DefaultConfig()
	if configFile == "" {
		cfg = config
		return
	}

	start := time.Now()
	var data []byte
	if data, err = ioutil.ReadFile(configFile); err != nil {
		err = fmt.Errorf("failed to read config: %w", err)
		return
	}

	if err = yaml.UnmarshalStrict(data, config); err != nil {
		err = fmt.Errorf("failed to parse config %s: %w", configFile, err)
		return
	}

	end := time.Since(start)
	zap.L().Info("configuration loaded", zap.Duration("in", end), zap.String("from", configFile))

	cfg = config
	return
}

// Options resolves the configuration for one deployment mode.
func (c *DeployerConfig) Options(mode deploy.Mode, minify bool) deploy.Options {
	dest := c.Targets.Dev
	if mode == deploy.ModeProd {
		dest = c.Targets.Prod
	}

	return deploy.Options{
		Mode:                mode,
		SourceDir:           c.SourceDir,
		DestDir:             dest,
		DocGen:              c.DocGen,
		EntryHTML:           c.EntryHTML,
		DevScriptRef:        c.DevScriptRef,
		DeployedScriptRef:   c.DeployedScriptRef,
		DeployedScript:      c.DeployedScript,
		RevisionPlaceholder: c.RevisionPlaceholder,
		SweepPatterns:       c.SweepPatterns,
		CommitMessage:       c.CommitMessage,
		Minify: deploy.MinifyOptions{
			Enabled:         c.Minify.Enabled || minify,
			Endpoint:        c.Minify.Endpoint,
			Timeout:         c.Minify.Timeout,
			CodeBaseURL:     c.Minify.CodeBaseURL,
			LocalScriptsDir: c.Minify.LocalScriptsDir,
			ScriptsDir:      c.Minify.ScriptsDir,
			DevMarker:       c.Minify.DevMarker,
			Output:          c.Minify.Output,
			MinSize:         c.Minify.MinSize,
		},
	}
}
