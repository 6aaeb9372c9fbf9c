// Package tenant はリクエストのHostヘッダーからテナント種別を判定する。
package tenant

import (
	"strings"

	"golang.org/x/net/idna"
)

// Kind はホストの種別を表す。
type Kind string

const (
	// AppHost はダッシュボードを提供する予約済みの app サブドメイン。
	AppHost Kind = "app"
	// MarketingHost は外部のマーケティングページへ転送する予約済みドメイン。
	MarketingHost Kind = "marketing"
	// RootHost はルートドメイン（ローカル開発ではlocalhost）。
	RootHost Kind = "root"
	// CustomHost はテナントのサブドメインまたはカスタムドメイン。
	CustomHost Kind = "custom"
)

// previewMarker はプレビューデプロイのURLでテナント名とハッシュを区切る文字列。
const previewMarker = "---"

// Host は判定済みのホストを表す。
// Valueは正規化後のホスト名で、CustomHostの場合にテナントの識別子となる。
type Host struct {
	Kind  Kind
	Value string
}

// Config はResolverの設定。RootDomainとDeploymentSuffixは必須。
type Config struct {
	RootDomain       string // 例: "example.com"
	DeploymentSuffix string // 例: "vercel.app"
	MarketingHost    string // 例: "vercel.pub"。空の場合MarketingHostとは判定しない
	DevPort          string // 例: "3000"
}

// Resolver はHostヘッダーをテナント種別に分類する。
// 状態を持たないため、複数のゴルーチンから同時に利用できる。
type Resolver struct {
	rootDomain       string
	deploymentSuffix string
	marketingHost    string
	appHost          string
	devHost          string
	devSuffix        string
}

// NewResolver はResolverを生成する。
func NewResolver(cfg Config) *Resolver {
	root := strings.ToLower(cfg.RootDomain)
	return &Resolver{
		rootDomain:       root,
		deploymentSuffix: strings.ToLower(cfg.DeploymentSuffix),
		marketingHost:    strings.ToLower(cfg.MarketingHost),
		appHost:          "app." + root,
		devHost:          "localhost:" + cfg.DevPort,
		devSuffix:        ".localhost:" + cfg.DevPort,
	}
}

// Resolve はHostヘッダーの値を判定する。
// ローカル開発用ホスト（*.localhost:<port>）とプレビューデプロイのホスト
// （<prefix>---<hash>.<suffix>）は本番と同じテナントに解決される。
func (r *Resolver) Resolve(hostHeader string) Host {
	host := r.canonical(hostHeader)

	switch {
	case host == r.appHost:
		return Host{Kind: AppHost, Value: host}
	case r.marketingHost != "" && host == r.marketingHost:
		return Host{Kind: MarketingHost, Value: host}
	case host == r.rootDomain || host == r.devHost:
		return Host{Kind: RootHost, Value: host}
	default:
		return Host{Kind: CustomHost, Value: host}
	}
}

// canonical はローカル開発用サフィックスとプレビューデプロイのホストを
// ルートドメイン配下のホストに置き換える。
func (r *Resolver) canonical(hostHeader string) string {
	host := normalize(hostHeader)

	if strings.HasSuffix(host, r.devSuffix) {
		host = strings.TrimSuffix(host, r.devSuffix) + "." + r.rootDomain
	}

	if strings.Contains(host, previewMarker) && strings.HasSuffix(host, "."+r.deploymentSuffix) {
		prefix, _, _ := strings.Cut(host, previewMarker)
		host = prefix + "." + r.rootDomain
	}

	return host
}

// normalize は小文字化し、国際化ドメイン名をASCII（punycode）に変換する。
// ポートはそのまま残す。変換できないホストは小文字化のみ行う。
func normalize(hostHeader string) string {
	host := strings.ToLower(strings.TrimSpace(hostHeader))

	name, port := host, ""
	if i := strings.LastIndexByte(host, ':'); i >= 0 && !strings.Contains(host[i:], "]") {
		name, port = host[:i], host[i:]
	}

	ascii, err := idna.Lookup.ToASCII(name)
	if err != nil || ascii == "" {
		return host
	}
	return ascii + port
}
