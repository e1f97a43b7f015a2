package server

import (
	"crypto/tls"
	"net/http"
	"time"
)

// TLSConfig TLS 1.2 起步，1.2 下只允许 ECDHE + AEAD 套件
func TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:       tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{tls.X25519, tls.CurveP256},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
}

// ProbeClient 供 longtask health 命令探测 /health 与 /ready，https 地址使用 TLSConfig
func ProbeClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = TLSConfig()
	transport.MaxIdleConns = 1
	transport.DisableKeepAlives = true
	return &http.Client{Timeout: timeout, Transport: transport}
}
