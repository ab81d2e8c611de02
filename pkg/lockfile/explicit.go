package lockfile

import (
	"fmt"
	"strings"

	"github.com/djcass44/envlock/pkg/airutil"
	v1 "github.com/djcass44/envlock/pkg/api/v1"
)

// Explicit renders a platform as a conda explicit file that
// can be passed to "conda create --file". Pip packages have no
// explicit form so they are listed as comments.
func (l *Lock) Explicit(name string) (string, error) {
	p, ok := l.Platforms[name]
	if !ok {
		return "", fmt.Errorf("platform not found in lock: %s", name)
	}
	var sb strings.Builder
	sb.WriteString("# This file may be used to create an environment using:\n")
	sb.WriteString("# $ conda create --name <env> --file <this file>\n")
	sb.WriteString("# platform: " + name + "\n")
	sb.WriteString("# input_hash: " + p.ContentHash + "\n")
	for _, k := range sortedKeys(l.Variables) {
		sb.WriteString("# variable: " + k + "=" + l.Variables[k] + "\n")
	}
	sb.WriteString("@EXPLICIT\n")

	var pip []Package
	for _, pkg := range p.Packages {
		if pkg.Type != v1.PackageConda {
			pip = append(pip, pkg)
			continue
		}
		line := airutil.ExpandEnv(pkg.Resolved)
		if pkg.MD5 != "" {
			line += "#" + pkg.MD5
		}
		sb.WriteString(line + "\n")
	}
	for _, pkg := range pip {
		sb.WriteString(fmt.Sprintf("# pip %s @ %s", pkg.Name, airutil.ExpandEnv(pkg.Resolved)))
		if algo, digest, ok := strings.Cut(pkg.Integrity, ":"); ok && pkg.Type != v1.PackageDir {
			sb.WriteString("#" + algo + "=" + digest)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
