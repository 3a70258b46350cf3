package hostbuild

import (
	"bytes"
	"strings"
	"text/template"
)

const (
	npmReadme      = "Use: npm install --offline --cache ./host/npm --prefer-offline <pkg>@<version>\n"
	npmrcTemplate  = "cache=./host/npm\nprefer-offline=true\n"
	pipReadme      = "Use: pip install --no-index --find-links ./host/pip <pkg>==<version>\n"
	aptReadme      = "Use: sudo apt install ./host/apt/<package>.deb  OR configure file:// repo with Packages.gz\n"
	aptPackagesGz  = "Packages.gz"
	installPath    = "scripts/install.sh"
	checksumsPath  = "compliance/checksums.txt"
	hostDir        = "host"
	sandboxOutDir  = "/out"
	sandboxHomeDir = "/tmp"
)

var installTemplate = template.Must(template.New("install.sh").Parse(`#!/usr/bin/env bash
set -euo pipefail
DIR="$(cd "$(dirname "$0")/.." && pwd)"
{{- if .NPM}}

# npm offline
if command -v npm >/dev/null && [ -d "$DIR/host/npm" ]; then
  echo "[npm] configuring offline cache..."
  sed "s#^cache=.*#cache=$DIR/host/npm#" "$DIR/host/npm/npmrc-template" > ~/.npmrc || true
  echo "[npm] ready: npm will use local cache in $DIR/host/npm"
fi
{{- end}}
{{- if .Pip}}

# pip offline
if command -v pip >/dev/null || command -v pip3 >/dev/null; then
  if [ -d "$DIR/host/pip" ]; then
    echo "[pip] ready: use --no-index --find-links $DIR/host/pip"
  fi
fi
{{- end}}
{{- if .Apt}}

# apt offline
if command -v apt >/dev/null && [ -d "$DIR/host/apt" ]; then
  echo "[apt] ready: install .deb in $DIR/host/apt or add a file:// repo with Packages.gz"
fi
{{- end}}

echo "Done."
`))

type installKinds struct {
	NPM bool
	Pip bool
	Apt bool
}

func installScript(kinds installKinds) ([]byte, error) {
	var buf bytes.Buffer
	if err := installTemplate.Execute(&buf, kinds); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var aptTemplate = template.Must(template.New("apt.sh").Parse(`set -e
apt-get update
DEBIAN_FRONTEND=noninteractive apt-get install -y --no-install-recommends dpkg-dev ca-certificates
cd {{.OutDir}}
apt-get download {{.Refs}}
dpkg-scanpackages . /dev/null | gzip -9c > Packages.gz
{{- if .Owner}}
chown -R {{.Owner}} {{.OutDir}}
{{- end}}
`))

// aptScript renders the sandboxed apt fetch. owner may be empty to keep root ownership.
func aptScript(refs []string, owner string) (string, error) {
	quoted := make([]string, len(refs))
	for i, r := range refs {
		quoted[i] = shellQuote(r)
	}
	var buf bytes.Buffer
	err := aptTemplate.Execute(&buf, struct {
		OutDir string
		Refs   string
		Owner  string
	}{
		OutDir: sandboxOutDir,
		Refs:   strings.Join(quoted, " "),
		Owner:  owner,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
