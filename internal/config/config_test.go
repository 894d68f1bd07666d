package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigSuite is a test suite for config operations.
type ConfigSuite struct {
	suite.Suite
	tempDir     string
	origHomeDir string
}

func (s *ConfigSuite) SetupTest() {
	var err error
	s.tempDir, err = os.MkdirTemp("", "config-test-*")
	s.Require().NoError(err)

	s.origHomeDir = os.Getenv("HOME")
	os.Setenv("HOME", s.tempDir)
}

func (s *ConfigSuite) TearDownTest() {
	os.Setenv("HOME", s.origHomeDir)
	os.RemoveAll(s.tempDir)
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) writeSettings(content string) {
	s.Require().NoError(EnsureDataDir())
	s.Require().NoError(os.WriteFile(SettingsPath(), []byte(content), 0600))
}

// TestDefault tests default configuration values.
func (s *ConfigSuite) TestDefault() {
	cfg := Default()

	s.Equal(DefaultWorkerPort, cfg.WorkerPort)
	s.Equal("sqlite", cfg.DBDriver)
	s.Equal(DefaultTabletAction, cfg.TabletAction)
	s.Equal(10, cfg.Runs)
	s.Equal(DefaultLetters, cfg.Letters)
	s.True(cfg.RandomizePerRun)
	s.True(cfg.RandomizeCueDuration)
	s.Nil(cfg.Seed)
	s.InDelta(6.0, cfg.CueBaseDuration, 1e-9)
	s.InDelta(1.0, cfg.CueTMin, 1e-9)
	s.InDelta(2.5, cfg.CueTMax, 1e-9)
	s.Equal(KindExecuted, cfg.SessionKind)
}

// TestDefault_LettersAreCopied ensures callers cannot mutate the package default.
func (s *ConfigSuite) TestDefault_LettersAreCopied() {
	cfg := Default()
	cfg.Letters[0] = "z"
	s.Equal("e", DefaultLetters[0])
}

func (s *ConfigSuite) TestPaths() {
	s.Contains(DataDir(), ".hwrsync")
	s.Contains(DBPath(), "hwrsync.db")
	s.Contains(SettingsPath(), "settings.json")
}

func (s *ConfigSuite) TestEnsureAll() {
	s.Require().NoError(EnsureAll())

	info, err := os.Stat(DataDir())
	s.Require().NoError(err)
	s.True(info.IsDir())

	_, err = os.Stat(SettingsPath())
	s.NoError(err)

	// Second call leaves the existing file untouched.
	s.Require().NoError(os.WriteFile(SettingsPath(), []byte(`{"HWR_RUNS": 3}`), 0600))
	s.Require().NoError(EnsureAll())
	data, err := os.ReadFile(SettingsPath())
	s.Require().NoError(err)
	s.JSONEq(`{"HWR_RUNS": 3}`, string(data))
}

func (s *ConfigSuite) TestLoad_NoFile() {
	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal(Default().Runs, cfg.Runs)
}

func (s *ConfigSuite) TestLoad_InvalidJSON() {
	s.writeSettings(`{not json`)

	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal(DefaultWorkerPort, cfg.WorkerPort)
}

func (s *ConfigSuite) TestLoad_Overrides() {
	s.writeSettings(`{
		"HWR_WORKER_PORT": 40000,
		"HWR_RUNS": 2,
		"HWR_LETTERS": " a, b ,,c ",
		"HWR_RANDOMIZE_PER_RUN": false,
		"HWR_CUE_TMAX": 3.5,
		"HWR_SEED": 42,
		"HWR_ADB_SERIAL": "R52N"
	}`)

	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal(40000, cfg.WorkerPort)
	s.Equal(2, cfg.Runs)
	s.Equal([]string{"a", "b", "c"}, cfg.Letters)
	s.False(cfg.RandomizePerRun)
	s.InDelta(3.5, cfg.CueTMax, 1e-9)
	s.Require().NotNil(cfg.Seed)
	s.Equal(int64(42), *cfg.Seed)
	s.Equal("R52N", cfg.ADBSerial)
}

func (s *ConfigSuite) TestLoad_LettersArray() {
	s.writeSettings(`{"HWR_LETTERS": ["x", " y ", ""]}`)

	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal([]string{"x", "y"}, cfg.Letters)
}

func (s *ConfigSuite) TestLoad_UnknownKind() {
	s.writeSettings(`{"HWR_SESSION_KIND": "nap"}`)

	_, err := Load()
	s.Error(err)
}

func (s *ConfigSuite) TestLoad_EnvOverridesFile() {
	s.writeSettings(`{"HWR_SUBJECT_ID": "from_file"}`)
	s.T().Setenv("HWR_SUBJECT_ID", "from_env")
	s.T().Setenv("HWR_LETTERS", "q,w")

	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal("from_env", cfg.SubjectID)
	s.Equal([]string{"q", "w"}, cfg.Letters)
}

func TestApplyKind(t *testing.T) {
	t.Run("baseline", func(t *testing.T) {
		cfg := Default()
		require.NoError(t, cfg.ApplyKind(KindBaseline))
		assert.Equal(t, []string{"mira"}, cfg.Letters)
		assert.Equal(t, 1, cfg.Runs)
		assert.InDelta(t, 60.0, cfg.CueBaseDuration, 1e-9)
		assert.False(t, cfg.RandomizeCueDuration)
		assert.False(t, cfg.RandomizePerRun)
	})

	t.Run("training", func(t *testing.T) {
		cfg := Default()
		require.NoError(t, cfg.ApplyKind(KindTraining))
		assert.Equal(t, 1, cfg.Runs)
		assert.False(t, cfg.RandomizePerRun)
		assert.Equal(t, DefaultLetters, cfg.Letters)
	})

	t.Run("imagined keeps defaults", func(t *testing.T) {
		cfg := Default()
		require.NoError(t, cfg.ApplyKind(KindImagined))
		assert.Equal(t, 10, cfg.Runs)
		assert.Equal(t, KindImagined, cfg.SessionKind)
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := Default()
		assert.Error(t, cfg.ApplyKind("nap"))
		assert.Equal(t, KindExecuted, cfg.SessionKind)
	})
}

func TestDurations(t *testing.T) {
	cfg := Default()
	assert.Equal(t, int64(5), cfg.TickInterval().Milliseconds())
	assert.Equal(t, int64(2000), cfg.SendTimeout().Milliseconds())
	assert.Equal(t, int64(800), cfg.PullTimeout().Milliseconds())
}

func TestGetWorkerPort_EnvOverride(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want int
	}{
		{"valid", "41000", 41000},
		{"invalid", "abc", DefaultWorkerPort},
		{"zero", "0", DefaultWorkerPort},
		{"negative", "-1", DefaultWorkerPort},
	}

	t.Setenv("HOME", t.TempDir())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HWR_WORKER_PORT", tt.env)
			configOnce.Do(func() {})
			globalConfig = Default()
			assert.Equal(t, tt.want, GetWorkerPort())
		})
	}
}

func TestSplitTrim(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", []string{}},
		{"single", "a", []string{"a"}},
		{"spaces", " a , b ", []string{"a", "b"}},
		{"empties dropped", "a,,b,", []string{"a", "b"}},
		{"only commas", ",,,", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitTrim(tt.in))
		})
	}
}

func TestEnsureSettings_WritesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.NoError(t, EnsureAll())
	data, err := os.ReadFile(filepath.Join(home, ".hwrsync", "settings.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"HWR_LETTERS": "e,a,o,s,n,r,u,l,d,t"`)
}
