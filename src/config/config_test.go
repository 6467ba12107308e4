package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetDataDir(t *testing.T) {
	conf := NewDefaultConfig()
	conf.SetDataDir("/tmp/alice")

	if conf.DatabaseDir != filepath.Join("/tmp/alice", DefaultBadgerFile) {
		t.Fatalf("default database dir should follow the datadir, got %s", conf.DatabaseDir)
	}
	if conf.Keyfile() != filepath.Join("/tmp/alice", DefaultKeyfile) {
		t.Fatalf("unexpected keyfile %s", conf.Keyfile())
	}

	conf.DatabaseDir = "/var/db"
	conf.SetDataDir("/tmp/bob")
	if conf.DatabaseDir != "/var/db" {
		t.Fatalf("explicit database dir should be kept, got %s", conf.DatabaseDir)
	}
}

func TestICEServers(t *testing.T) {
	conf := NewDefaultConfig()

	servers := conf.ICEServers()
	if len(servers) != 1 || servers[0].URLs[0] != DefaultICEAddress || servers[0].Username != "" {
		t.Fatalf("unexpected default ICE servers %v", servers)
	}

	conf.ICEAddress = "turn:turn.example.com:3478"
	conf.ICEUsername = "alice"
	conf.ICEPassword = "secret"
	servers = conf.ICEServers()
	if servers[0].Username != "alice" || servers[0].Credential != "secret" {
		t.Fatalf("credentials should be set, got %v", servers[0])
	}

	conf.ICEAddress = ""
	if len(conf.ICEServers()) != 0 {
		t.Fatalf("no ICE address means no ICE server")
	}
}

func TestLogFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "callrelay-config")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer os.RemoveAll(dir)

	conf := NewDefaultConfig()
	conf.LogLevel = "info"
	conf.LogFile = filepath.Join(dir, "callrelay.log")

	logger := conf.Logger()
	logger.Logger.Out = ioutil.Discard

	if logger.Logger.Level != logrus.InfoLevel {
		t.Fatalf("level should be info, got %s", logger.Logger.Level)
	}

	logger.Info("written to the file")

	data, err := ioutil.ReadFile(conf.LogFile)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !strings.Contains(string(data), "written to the file") {
		t.Fatalf("log file should contain the entry, got %q", data)
	}
}
