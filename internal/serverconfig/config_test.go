// SPDX-FileCopyrightText: 2025 The fleetresv Authors
// SPDX-License-Identifier: Apache-2.0

package serverconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().Int("port", 0, "")
	cmd.Flags().String("tls_cert", "", "")
	cmd.Flags().String("tls_key", "", "")
	cmd.Flags().String("credentials", "", "")
	return cmd
}

func TestDefaultsFailValidationWithoutTLSAndCredentials(t *testing.T) {
	err := Defaults().Validate()
	assert.ErrorIs(t, err, ErrMissingTLSCert)
}

func TestLoadAppliesYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleetresv.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 7000\ntls_cert: cert.pem\ntls_key: key.pem\ncredentials: users.txt\n"), 0o600))

	cfg, err := Load(newFlagCmd(), nil, path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, "cert.pem", cfg.TLSCertPath)
}

func TestPositionalPortOutranksFileAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleetresv.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 7000\ntls_cert: cert.pem\ntls_key: key.pem\ncredentials: users.txt\n"), 0o600))

	cmd := newFlagCmd()
	require.NoError(t, cmd.Flags().Set("port", "8000"))
	cfg, err := Load(cmd, []string{"9999"}, path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
}

func TestLoadRejectsNonNumericPositionalPort(t *testing.T) {
	_, err := Load(newFlagCmd(), []string{"not-a-port"}, "")
	assert.Error(t, err)
}

func TestEnvironmentOverridesFileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleetresv.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 7000\ntls_cert: cert.pem\ntls_key: key.pem\ncredentials: users.txt\n"), 0o600))

	t.Setenv("FLEETRESV_PORT", "6001")
	cfg, err := Load(newFlagCmd(), nil, path)
	require.NoError(t, err)
	assert.Equal(t, 6001, cfg.Port)
}
