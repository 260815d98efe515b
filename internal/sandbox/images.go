package sandbox

import "github.com/ChamsBouzaiene/forge/internal/workspace"

const fallbackImage = "alpine:3.20"

// toolchainImages carry the toolchain the default lint, build and test
// commands expect for each project type.
var toolchainImages = map[workspace.ProjectType]string{
	workspace.ProjectTypeGo:     "golang:1.24-alpine",
	workspace.ProjectTypeNode:   "node:22-alpine",
	workspace.ProjectTypePython: "python:3.12-slim",
	workspace.ProjectTypeRust:   "rust:1-slim",
}

// ImageFor picks the container image for a project type; a configured image
// always wins.
func ImageFor(projectType workspace.ProjectType, config Config) string {
	if config.DockerImage != "" {
		return config.DockerImage
	}
	if img, ok := toolchainImages[projectType]; ok {
		return img
	}
	return fallbackImage
}
