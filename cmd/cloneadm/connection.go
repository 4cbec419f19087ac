package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

// Static errors for connection resolution.
var (
	errAddrNotConfigured = errors.New("clone-engine front-end address not configured (use --addr, --secret, or CLONE_ENGINE_ADDR env var)")
	errInvalidSecretRef  = errors.New("invalid secret reference format, expected 'namespace/name'")
)

// defaultDriverNamespace is not consulted by resolveAddr: with no --addr,
// --secret or CLONE_ENGINE_ADDR, resolveAddr returns errAddrNotConfigured
// without searching any namespace.
const defaultDriverNamespace = "kube-system"

// resolveAddr resolves the clone-engine front-end base URL from, in
// priority order: the --addr flag, an explicit --secret reference, and
// the CLONE_ENGINE_ADDR environment variable.
func resolveAddr(ctx context.Context, addr, secretRef *string) (string, error) {
	if addr != nil && *addr != "" {
		return strings.TrimSuffix(*addr, "/"), nil
	}

	if secretRef != nil && *secretRef != "" {
		resolved, err := addrFromSecret(ctx, *secretRef)
		if err != nil {
			return "", fmt.Errorf("failed to read secret %s: %w", *secretRef, err)
		}
		if resolved != "" {
			return strings.TrimSuffix(resolved, "/"), nil
		}
	}

	if env := os.Getenv("CLONE_ENGINE_ADDR"); env != "" {
		return strings.TrimSuffix(env, "/"), nil
	}

	return "", errAddrNotConfigured
}

// addrFromSecret reads the clone-engine front-end address from a
// Kubernetes secret, trying a handful of common key names.
func addrFromSecret(ctx context.Context, secretRef string) (string, error) {
	parts := strings.SplitN(secretRef, "/", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: %q", errInvalidSecretRef, secretRef)
	}
	namespace, name := parts[0], parts[1]

	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{})

	config, err := kubeConfig.ClientConfig()
	if err != nil {
		return "", fmt.Errorf("failed to load kubeconfig: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return "", fmt.Errorf("failed to create Kubernetes client: %w", err)
	}

	secret, err := clientset.CoreV1().Secrets(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to get secret: %w", err)
	}

	for _, key := range []string{"addr", "clone-engine-addr", "CLONE_ENGINE_ADDR"} {
		if val, ok := secret.Data[key]; ok && len(val) > 0 {
			return string(val), nil
		}
	}
	return "", nil
}

// client is a thin JSON-over-HTTP client for pkg/frontend's API.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *client {
	return &client{baseURL: baseURL, http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Message != "" {
			return fmt.Errorf("%s %s: %s: %s", method, path, apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("%s %s: unexpected status %s", method, path, resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s %s: %w", method, path, err)
	}
	return nil
}
