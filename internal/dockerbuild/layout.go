package dockerbuild

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/k11v/airgap/internal/bundle"
)

const loadImagesScript = `#!/usr/bin/env bash
set -e
cd "$(dirname "$0")"
for f in images/*.tar; do docker load -i "$f"; done
`

const installScript = `#!/usr/bin/env bash
set -euo pipefail
if ! command -v docker >/dev/null; then echo "Docker not installed"; exit 1; fi
if ! docker compose version >/dev/null 2>&1; then echo "Docker Compose V2 required"; exit 1; fi
cd "$(dirname "$0")/../docker"
for f in images/*.tar; do
  if [ -f "$f" ]; then docker load -i "$f"; fi
done
DOCKER_BUILDKIT=0 COMPOSE_DOCKER_CLI_BUILD=0 docker compose up -d
echo
echo "Done. Containers running:" && docker ps --format '{{.Names}}  ->  {{.Image}}'
`

func readme(images []bundle.Image) string {
	var b strings.Builder
	b.WriteString("# AirGap Bundle (Docker)\n\n")
	b.WriteString("1) Ensure Docker + Compose v2 installed.\n")
	b.WriteString("2) Run scripts/install.sh\n")
	b.WriteString("\nImages:\n\n")
	for _, img := range images {
		fmt.Fprintf(&b, "- %s (docker/images/%s)\n", img.Reference(), img.ArchiveName())
	}
	return b.String()
}

var invalidServiceChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// serviceNames derives one unique compose service name per image, in order.
func serviceNames(images []bundle.Image) []string {
	names := make([]string, len(images))
	used := make(map[string]bool, len(images))
	for i, img := range images {
		base := invalidServiceChars.ReplaceAllString(strings.ToLower(img.ServiceName()), "-")
		base = strings.Trim(base, "-.")
		if base == "" {
			base = fmt.Sprintf("svc%d", i)
		}
		name := base
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s-%d", base, n)
		}
		used[name] = true
		names[i] = name
	}
	return names
}

// composeFile renders the compose descriptor with services in image order.
func composeFile(images []bundle.Image, platform bundle.Platform) ([]byte, error) {
	services := &yaml.Node{Kind: yaml.MappingNode}
	for i, name := range serviceNames(images) {
		service := mappingNode(
			"image", images[i].Reference(),
			"platform", string(platform),
			"restart", "unless-stopped",
		)
		services.Content = append(services.Content, scalarNode(name), service)
	}
	doc := &yaml.Node{
		Kind:    yaml.MappingNode,
		Content: []*yaml.Node{scalarNode("services"), services},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func scalarNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

// mappingNode builds a mapping from alternating keys and values.
func mappingNode(kv ...string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, s := range kv {
		n.Content = append(n.Content, scalarNode(s))
	}
	return n
}
