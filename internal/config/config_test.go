package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/picklr-io/converge/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIAABAgMEBQYHCAkKCwwNDg8QERITFBUWFxgZGhscHR4f admin@example.com"

func baseEnv() map[string]string {
	return map[string]string{
		"AWS_ACCESS_KEY":  "AKIDEXAMPLE",
		"AWS_SECRET_KEY":  "secret",
		"DOMAIN":          "example.com",
		"ROOT_USERNAME":   "admin",
		"ROOT_EMAIL":      "admin@example.com",
		"ROOT_PASSWORD":   "hunter2",
		"ROOT_SSH_PUBKEY": testKey,
	}
}

func TestParse_Defaults(t *testing.T) {
	c, err := Parse(baseEnv())
	require.NoError(t, err)

	assert.Equal(t, "us-east-1", c.Region)
	assert.Equal(t, "aws", c.Provider)
	assert.Equal(t, "warn", c.LogLevel)
	assert.Equal(t, 2, c.Parallelism)
	assert.Equal(t, 5*time.Minute, c.LaunchTimeout)
	assert.Equal(t, 10*time.Minute, c.ReadinessTimeout)
	assert.Equal(t, ".", c.PlaybookDir)
	assert.Equal(t, "ec2-user", c.SSHUser)
	assert.Equal(t, "ansible-playbook", c.AnsibleBinary)
	assert.Equal(t, ".converge", c.LockDir)
	assert.Equal(t, reconcile.StoppedReplace, c.StoppedPolicy())
	assert.NoError(t, c.Validate())
}

func TestParse_Overrides(t *testing.T) {
	environ := baseEnv()
	environ["CONVERGE_PARALLELISM"] = "4"
	environ["CONVERGE_READINESS_TIMEOUT"] = "90s"
	environ["CONVERGE_STOPPED_INSTANCES"] = "fail"
	environ["AWS_REGION"] = "eu-central-1"

	c, err := Parse(environ)
	require.NoError(t, err)
	assert.Equal(t, 4, c.Parallelism)
	assert.Equal(t, 90*time.Second, c.ReadinessTimeout)
	assert.Equal(t, "eu-central-1", c.Region)
	assert.Equal(t, reconcile.StoppedFail, c.StoppedPolicy())
}

func TestParse_MissingRequired(t *testing.T) {
	environ := baseEnv()
	delete(environ, "DOMAIN")
	environ["ROOT_PASSWORD"] = ""

	_, err := Parse(environ)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DOMAIN")
	assert.Contains(t, err.Error(), "ROOT_PASSWORD")
}

func TestParse_BadDuration(t *testing.T) {
	environ := baseEnv()
	environ["CONVERGE_LAUNCH_TIMEOUT"] = "soon"

	_, err := Parse(environ)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(map[string]string)
		wantErr string
	}{
		{"unknown provider", func(e map[string]string) { e["CONVERGE_PROVIDER"] = "gcp" }, "unknown provider"},
		{"aws without credentials", func(e map[string]string) { delete(e, "AWS_SECRET_KEY") }, "AWS_SECRET_KEY"},
		{"bad email", func(e map[string]string) { e["ROOT_EMAIL"] = "not an email" }, "ROOT_EMAIL"},
		{"bad key", func(e map[string]string) { e["ROOT_SSH_PUBKEY"] = "ssh-rsa nope" }, "ROOT_SSH_PUBKEY"},
		{"bad domain", func(e map[string]string) { e["DOMAIN"] = "localhost" }, "not a domain name"},
		{"zero parallelism", func(e map[string]string) { e["CONVERGE_PARALLELISM"] = "0" }, "CONVERGE_PARALLELISM"},
		{"negative timeout", func(e map[string]string) { e["CONVERGE_READINESS_TIMEOUT"] = "-1s" }, "CONVERGE_READINESS_TIMEOUT"},
		{"bad policy", func(e map[string]string) { e["CONVERGE_STOPPED_INSTANCES"] = "resume" }, "stopped-instance policy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			environ := baseEnv()
			tt.mutate(environ)
			c, err := Parse(environ)
			require.NoError(t, err)
			assert.ErrorContains(t, c.Validate(), tt.wantErr)
		})
	}
}

func TestValidate_NullProviderNeedsNoCredentials(t *testing.T) {
	environ := baseEnv()
	delete(environ, "AWS_ACCESS_KEY")
	delete(environ, "AWS_SECRET_KEY")
	environ["CONVERGE_PROVIDER"] = "null"

	c, err := Parse(environ)
	require.NoError(t, err)
	assert.NoError(t, c.Validate())
}

func TestParams(t *testing.T) {
	environ := baseEnv()
	environ["ROOT_SSH_PUBKEY"] = testKey + "\n"
	c, err := Parse(environ)
	require.NoError(t, err)

	p := c.Params()
	assert.Equal(t, "example.com", p.Domain)
	assert.Equal(t, "admin", p.RootUsername)
	assert.Equal(t, testKey, p.SSHPublicKey)
}

func TestLoad_EnvFileUnderProcessEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "DOMAIN=file.example.com\n" +
		"ROOT_USERNAME=admin\n" +
		"ROOT_EMAIL=admin@example.com\n" +
		"ROOT_PASSWORD=from-file\n" +
		"ROOT_SSH_PUBKEY=\"" + testKey + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	t.Setenv("ROOT_PASSWORD", "from-process")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file.example.com", c.Domain)
	assert.Equal(t, "from-process", c.RootPassword)
	assert.Equal(t, testKey, c.SSHPublicKey)
}

func TestLoad_ProcessEnvOnly(t *testing.T) {
	for k, v := range baseEnv() {
		t.Setenv(k, v)
	}
	t.Setenv("ROOT_PASSWORD", "pa=ss=word")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "pa=ss=word", c.RootPassword)
	assert.Equal(t, "example.com", c.Domain)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.ErrorContains(t, err, "failed to read env file")
}

func TestResolveEnvFile(t *testing.T) {
	assert.Equal(t, "custom.env", ResolveEnvFile("custom.env"))

	dir := t.TempDir()
	t.Chdir(dir)
	assert.Empty(t, ResolveEnvFile(""))

	require.NoError(t, os.WriteFile(DefaultEnvFile, []byte("DOMAIN=example.com\n"), 0600))
	assert.Equal(t, DefaultEnvFile, ResolveEnvFile(""))
}
