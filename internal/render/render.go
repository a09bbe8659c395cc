package render

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/nextrouter/nextrouter/internal/nft"
	"github.com/nextrouter/nextrouter/internal/policy"
)

// Template names.
const (
	Nftables = "nftables.conf"
	Dnsmasq  = "dnsmasq.conf"
	Dhcpd    = "dhcpd.conf"
)

const defaultLeaseTime = "12h"

//go:embed templates/*.tmpl
var embedded embed.FS

var templateCache sync.Map

// Data is what every template sees: the plan plus the nftables table identity.
type Data struct {
	policy.Plan
	Family string
	Table  string
}

// NewData wraps a plan for rendering.
func NewData(plan policy.Plan) Data {
	return Data{Plan: plan, Family: nft.Family, Table: nft.TableName}
}

// Renderer resolves templates from an override directory before falling back
// to the embedded defaults. In the directory, NAME.tmpl is a Go template and
// NAME.template a legacy file with ${VAR} placeholders.
type Renderer struct {
	Dir string
}

// NewRenderer creates a renderer; dir may be empty.
func NewRenderer(dir string) *Renderer {
	return &Renderer{Dir: dir}
}

// Render produces the named file for data.
func (r *Renderer) Render(name string, data Data) (string, error) {
	if r.Dir != "" {
		src, err := os.ReadFile(filepath.Join(r.Dir, name+".tmpl"))
		switch {
		case err == nil:
			return execute(name, string(src), data)
		case !errors.Is(err, fs.ErrNotExist):
			return "", fmt.Errorf("read template %s: %w", name, err)
		}

		src, err = os.ReadFile(filepath.Join(r.Dir, name+".template"))
		switch {
		case err == nil:
			out, err := Substitute(string(src), Vars(data))
			if err != nil {
				return "", fmt.Errorf("render %s: %w", name, err)
			}
			return out, nil
		case !errors.Is(err, fs.ErrNotExist):
			return "", fmt.Errorf("read template %s: %w", name, err)
		}
	}

	src, err := embedded.ReadFile("templates/" + name + ".tmpl")
	if err != nil {
		return "", fmt.Errorf("unknown template %q", name)
	}
	return execute(name, string(src), data)
}

func execute(name, src string, data Data) (string, error) {
	tpl, err := loadTemplate(name, src)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// loadTemplate parses src once per distinct source text.
func loadTemplate(name, src string) (*template.Template, error) {
	key := name + "\x00" + src
	if tpl, ok := templateCache.Load(key); ok {
		return tpl.(*template.Template), nil
	}

	tpl, err := template.New(name).Option("missingkey=error").Funcs(funcs).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}

	templateCache.Store(key, tpl)
	return tpl, nil
}

var funcs = template.FuncMap{
	"join":      strings.Join,
	"seconds":   leaseSeconds,
	"leaseTime": leaseTime,
}

// leaseSeconds converts a lease duration to the integer seconds dhcpd
// expects. "infinite" maps to the protocol's all-ones lease.
func leaseSeconds(lease string) (string, error) {
	lease = leaseTime(lease)
	if lease == "infinite" {
		return "4294967295", nil
	}
	d, err := time.ParseDuration(lease)
	if err != nil {
		return "", fmt.Errorf("invalid lease time %q: %w", lease, err)
	}
	return strconv.FormatInt(int64(d/time.Second), 10), nil
}

func leaseTime(lease string) string {
	if strings.TrimSpace(lease) == "" {
		return defaultLeaseTime
	}
	return strings.TrimSpace(lease)
}
