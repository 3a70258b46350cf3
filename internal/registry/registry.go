package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/k11v/airgap/internal/engine"
)

var (
	ErrNotFound         = errors.New("package not found")
	ErrUnsupportedImage = errors.New("unsupported distro image")
)

const (
	DefaultNPMURL    = "https://registry.npmjs.org"
	DefaultPyPIURL   = "https://pypi.org"
	DefaultUbuntuURL = "https://packages.ubuntu.com"

	DefaultDistroImage = "ubuntu:22.04"

	npmSearchSize      = 20
	pypiSearchLimit    = 30
	aptSearchLimit     = 50
	aptVersionsTimeout = 25 * time.Second
	maxBodySize        = 16 << 20
)

var (
	pypiSnippetRegexp = regexp.MustCompile(`(?i)<a class="package-snippet" href="/project/([^/]+)/`)
	requirementRegexp = regexp.MustCompile(`^([A-Za-z0-9_.\-]+)\s*(\(.+\))?\s*$`)
)

// Sandbox runs the disposable container used for apt version lookups.
type Sandbox interface {
	Run(ctx context.Context, params *engine.RunParams) (*engine.RunResult, error)
}

type Config struct {
	NPMURL    string // default: DefaultNPMURL
	PyPIURL   string // default: DefaultPyPIURL
	UbuntuURL string // default: DefaultUbuntuURL
}

func (c *Config) npmURL() string    { return withDefault(c.NPMURL, DefaultNPMURL) }
func (c *Config) pypiURL() string   { return withDefault(c.PyPIURL, DefaultPyPIURL) }
func (c *Config) ubuntuURL() string { return withDefault(c.UbuntuURL, DefaultUbuntuURL) }

func withDefault(s, def string) string {
	if s == "" {
		return def
	}
	return strings.TrimSuffix(s, "/")
}

// Client looks up package names, versions and dependencies in public registries.
type Client struct {
	httpClient *http.Client
	sandbox    Sandbox // optional
	log        *slog.Logger
	cfg        Config
}

func NewClient(httpClient *http.Client, sandbox Sandbox, log *slog.Logger, cfg *Config) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		sandbox:    sandbox,
		log:        log.With("component", "registry"),
		cfg:        *cfg,
	}
}

// Dependency is a direct dependency of a package version.
// Range holds an npm range or a pip version specifier.
type Dependency struct {
	Name  string `json:"name"`
	Range string `json:"range"`
}

type Suggestion struct {
	Name         string        `json:"name"`
	Version      string        `json:"version"`
	Dependencies []*Dependency `json:"dependencies"`
}

func (c *Client) SearchNPM(ctx context.Context, q string) ([]string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []string{}, nil
	}

	var body struct {
		Objects []struct {
			Package struct {
				Name string `json:"name"`
			} `json:"package"`
		} `json:"objects"`
	}
	u := fmt.Sprintf("%s/-/v1/search?text=%s&size=%d", c.cfg.npmURL(), url.QueryEscape(q), npmSearchSize)
	if err := c.getJSON(ctx, u, &body); err != nil {
		return nil, fmt.Errorf("search npm: %w", err)
	}

	names := make([]string, 0, len(body.Objects))
	for _, o := range body.Objects {
		if o.Package.Name != "" {
			names = append(names, o.Package.Name)
		}
	}
	return names, nil
}

type npmPackument struct {
	DistTags map[string]string `json:"dist-tags"`
	Versions map[string]struct {
		Dependencies map[string]string `json:"dependencies"`
	} `json:"versions"`
}

func (c *Client) npmPackument(ctx context.Context, name string) (*npmPackument, error) {
	var p npmPackument
	u := fmt.Sprintf("%s/%s", c.cfg.npmURL(), url.PathEscape(name))
	if err := c.getJSON(ctx, u, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) NPMVersions(ctx context.Context, name string) ([]string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return []string{}, nil
	}
	p, err := c.npmPackument(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("npm versions: %w", err)
	}
	versions := make([]string, 0, len(p.Versions))
	for v := range p.Versions {
		versions = append(versions, v)
	}
	sortDescending(versions)
	return versions, nil
}

// SuggestNPM returns the direct dependencies of an npm package version.
// An empty version means the latest dist-tag.
func (c *Client) SuggestNPM(ctx context.Context, name, version string) (*Suggestion, error) {
	name, version = strings.TrimSpace(name), strings.TrimSpace(version)
	p, err := c.npmPackument(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("suggest npm: %w", err)
	}
	if version == "" {
		version = p.DistTags["latest"]
	}
	manifest, ok := p.Versions[version]
	if !ok {
		return nil, fmt.Errorf("suggest npm: version %q: %w", version, ErrNotFound)
	}

	deps := make([]*Dependency, 0, len(manifest.Dependencies))
	for n, r := range manifest.Dependencies {
		deps = append(deps, &Dependency{Name: n, Range: r})
	}
	slices.SortFunc(deps, func(a, b *Dependency) int { return strings.Compare(a.Name, b.Name) })
	return &Suggestion{Name: name, Version: version, Dependencies: deps}, nil
}

func (c *Client) SearchPyPI(ctx context.Context, q string) ([]string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []string{}, nil
	}
	html, err := c.getText(ctx, fmt.Sprintf("%s/search/?q=%s", c.cfg.pypiURL(), url.QueryEscape(q)))
	if err != nil {
		return nil, fmt.Errorf("search pypi: %w", err)
	}
	return matchUnique(pypiSnippetRegexp, html, pypiSearchLimit), nil
}

type pypiProject struct {
	Info struct {
		Version      string   `json:"version"`
		RequiresDist []string `json:"requires_dist"`
	} `json:"info"`
	Releases map[string]json.RawMessage `json:"releases"`
}

func (c *Client) pypiProject(ctx context.Context, name, version string) (*pypiProject, error) {
	u := fmt.Sprintf("%s/pypi/%s/json", c.cfg.pypiURL(), url.PathEscape(name))
	if version != "" {
		u = fmt.Sprintf("%s/pypi/%s/%s/json", c.cfg.pypiURL(), url.PathEscape(name), url.PathEscape(version))
	}
	var p pypiProject
	if err := c.getJSON(ctx, u, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) PyPIVersions(ctx context.Context, name string) ([]string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return []string{}, nil
	}
	p, err := c.pypiProject(ctx, name, "")
	if err != nil {
		return nil, fmt.Errorf("pypi versions: %w", err)
	}
	versions := make([]string, 0, len(p.Releases))
	for v := range p.Releases {
		versions = append(versions, v)
	}
	sortDescending(versions)
	return versions, nil
}

// SuggestPip returns the requirements of a PyPI release with environment markers dropped.
// An empty version means the latest release.
func (c *Client) SuggestPip(ctx context.Context, name, version string) (*Suggestion, error) {
	name, version = strings.TrimSpace(name), strings.TrimSpace(version)
	p, err := c.pypiProject(ctx, name, version)
	if err != nil {
		return nil, fmt.Errorf("suggest pip: %w", err)
	}
	if version == "" {
		version = p.Info.Version
	}

	deps := make([]*Dependency, 0, len(p.Info.RequiresDist))
	for _, line := range p.Info.RequiresDist {
		if d := parseRequirement(line); d != nil {
			deps = append(deps, d)
		}
	}
	return &Suggestion{Name: name, Version: version, Dependencies: deps}, nil
}

// parseRequirement parses a requires_dist line such as "idna (<4,>=2.5); python_version >= '3'".
func parseRequirement(line string) *Dependency {
	line, _, _ = strings.Cut(line, ";")
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	m := requirementRegexp.FindStringSubmatch(line)
	if m == nil {
		return &Dependency{Name: line}
	}
	spec := strings.TrimSuffix(strings.TrimPrefix(m[2], "("), ")")
	return &Dependency{Name: m[1], Range: spec}
}

// ubuntuSuites lists the distro images apt lookups may run in.
var ubuntuSuites = map[string]string{
	"ubuntu:20.04": "focal",
	"ubuntu:22.04": "jammy",
	"ubuntu:24.04": "noble",
}

// UbuntuSuite maps a supported ubuntu image to its release codename.
// An empty image means DefaultDistroImage.
func UbuntuSuite(distroImage string) (string, error) {
	if distroImage == "" {
		distroImage = DefaultDistroImage
	}
	suite, ok := ubuntuSuites[distroImage]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedImage, distroImage)
	}
	return suite, nil
}

func (c *Client) SearchApt(ctx context.Context, q, distroImage string) ([]string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []string{}, nil
	}
	suite, err := UbuntuSuite(distroImage)
	if err != nil {
		return nil, fmt.Errorf("search apt: %w", err)
	}

	u := fmt.Sprintf("%s/%s/search?keywords=%s&searchon=names&suite=%s&section=all", c.cfg.ubuntuURL(), suite, url.QueryEscape(q), suite)
	html, err := c.getText(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("search apt: %w", err)
	}
	re := regexp.MustCompile(`(?i)<a href="/` + regexp.QuoteMeta(suite) + `/[^"]+">([^<]+)</a>`)
	return matchUnique(re, html, aptSearchLimit), nil
}

// AptVersions lists the candidate versions of an apt package inside distroImage.
// It fails only for an unsupported image: a missing sandbox, a timeout or a failed lookup yields no versions.
func (c *Client) AptVersions(ctx context.Context, name, distroImage string) ([]string, error) {
	if _, err := UbuntuSuite(distroImage); err != nil {
		return nil, fmt.Errorf("apt versions: %w", err)
	}
	name = strings.TrimSpace(name)
	if name == "" || c.sandbox == nil {
		return []string{}, nil
	}
	if distroImage == "" {
		distroImage = DefaultDistroImage
	}

	ctx, cancel := context.WithTimeout(ctx, aptVersionsTimeout)
	defer cancel()

	script := fmt.Sprintf("set -e\napt-get update -qq\napt-cache madison %s | awk '{print $3}' | head -n 50\n", shellQuote(name))
	result, err := c.sandbox.Run(ctx, &engine.RunParams{
		Image: distroImage,
		Cmd:   []string{"bash", "-lc", script},
	})
	if err != nil {
		c.log.Warn("didn't look up apt versions", "name", name, "image", distroImage, "error", err)
		return []string{}, nil
	}

	versions := []string{}
	for _, line := range strings.Split(result.Stdout, "\n") {
		if v := strings.TrimSpace(line); v != "" {
			versions = append(versions, v)
		}
	}
	return versions, nil
}

func (c *Client) get(ctx context.Context, u string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return resp.Body, nil
}

func (c *Client) getJSON(ctx context.Context, u string, v any) error {
	body, err := c.get(ctx, u)
	if err != nil {
		return err
	}
	defer func() {
		_ = body.Close()
	}()
	return json.NewDecoder(io.LimitReader(body, maxBodySize)).Decode(v)
}

func (c *Client) getText(ctx context.Context, u string) (string, error) {
	body, err := c.get(ctx, u)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = body.Close()
	}()
	b, err := io.ReadAll(io.LimitReader(body, maxBodySize))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func matchUnique(re *regexp.Regexp, s string, limit int) []string {
	names := []string{}
	seen := make(map[string]bool)
	for _, m := range re.FindAllStringSubmatch(s, limit) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// sortDescending sorts semantic versions newest first and falls back to string order.
func sortDescending(versions []string) {
	slices.SortFunc(versions, func(a, b string) int {
		va, errA := semver.NewVersion(a)
		vb, errB := semver.NewVersion(b)
		if errA == nil && errB == nil {
			if c := vb.Compare(va); c != 0 {
				return c
			}
		}
		return strings.Compare(b, a)
	})
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
