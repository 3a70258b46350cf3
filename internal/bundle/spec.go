package bundle

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Target string

const (
	TargetDocker Target = "docker"
	TargetHost   Target = "host"
)

type Platform string

const (
	PlatformLinuxAMD64 Platform = "linux/amd64"
	PlatformLinuxARM64 Platform = "linux/arm64"
)

// DefaultPlatform is used when neither the spec nor the configuration name one.
const DefaultPlatform = PlatformLinuxAMD64

// DefaultDistroImage is the image apt packages are fetched in when the spec doesn't name one.
const DefaultDistroImage = "ubuntu:22.04"

func PlatformFromString(s string) (Platform, bool) {
	switch p := Platform(s); p {
	case PlatformLinuxAMD64, PlatformLinuxARM64:
		return p, true
	default:
		return "", false
	}
}

// Image is a container image reference. An empty Tag means "latest".
type Image struct {
	Name string `json:"name"`
	Tag  string `json:"tag,omitempty"`
}

func (i Image) ResolvedTag() string {
	if i.Tag == "" {
		return "latest"
	}
	return i.Tag
}

// Reference returns name:tag with the tag defaulted.
func (i Image) Reference() string {
	return i.Name + ":" + i.ResolvedTag()
}

// ArchiveName returns the deterministic tar file name the image is saved under.
// Path and tag separators in the name are replaced with underscores.
func (i Image) ArchiveName() string {
	r := strings.NewReplacer("/", "_", ":", "_")
	return r.Replace(i.Name) + "_" + i.ResolvedTag() + ".tar"
}

// ServiceName returns the last path segment of the image name without a tag.
// It returns an empty string if nothing usable is left.
func (i Image) ServiceName() string {
	name := i.Name
	if j := strings.LastIndex(name, "/"); j >= 0 {
		name = name[j+1:]
	}
	name, _, _ = strings.Cut(name, ":")
	return name
}

// Package is a language or OS package. Version is required for npm only.
type Package struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type DockerSpec struct {
	Images   []Image
	Platform Platform // optional
}

type HostSpec struct {
	NPM         []Package
	Pip         []Package
	Apt         []Package
	DistroImage string // optional
}

func (h *HostSpec) ResolvedDistroImage() string {
	if h.DistroImage == "" {
		return DefaultDistroImage
	}
	return h.DistroImage
}

// Spec is a validated bundle specification.
// Exactly one of Docker and Host is set, matching Target.
type Spec struct {
	Target Target
	Docker *DockerSpec
	Host   *HostSpec
}

// specJSON is the wire form of Spec.
type specJSON struct {
	Target      Target    `json:"target"`
	Images      []Image   `json:"images,omitempty"`
	Platform    Platform  `json:"platform,omitempty"`
	NPM         []Package `json:"npm,omitempty"`
	Pip         []Package `json:"pip,omitempty"`
	Apt         []Package `json:"apt,omitempty"`
	DistroImage string    `json:"distroImage,omitempty"`
}

func (s Spec) MarshalJSON() ([]byte, error) {
	v := specJSON{Target: s.Target}
	switch s.Target {
	case TargetDocker:
		if s.Docker == nil {
			return nil, fmt.Errorf("marshal spec: missing docker part")
		}
		v.Images = s.Docker.Images
		v.Platform = s.Docker.Platform
	case TargetHost:
		if s.Host == nil {
			return nil, fmt.Errorf("marshal spec: missing host part")
		}
		v.NPM = s.Host.NPM
		v.Pip = s.Host.Pip
		v.Apt = s.Host.Apt
		v.DistroImage = s.Host.DistroImage
	default:
		return nil, fmt.Errorf("marshal spec: unknown target %q", s.Target)
	}
	return json.Marshal(v)
}

// UnmarshalJSON decodes the wire form without validating it.
// Use ParseSpec for untrusted input.
func (s *Spec) UnmarshalJSON(data []byte) error {
	var v specJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = Spec{Target: v.Target}
	switch v.Target {
	case TargetDocker:
		s.Docker = &DockerSpec{Images: v.Images, Platform: v.Platform}
	case TargetHost:
		s.Host = &HostSpec{NPM: v.NPM, Pip: v.Pip, Apt: v.Apt, DistroImage: v.DistroImage}
	default:
		return fmt.Errorf("unmarshal spec: unknown target %q", v.Target)
	}
	return nil
}
