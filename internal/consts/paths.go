package consts

import (
	"os"
	"path/filepath"
)

const (
	FerryDirName    = ".ferry"
	ConfigFileName  = "config.yaml"
	SessionsDirName = "sessions"
)

func FerryHomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, FerryDirName)
}

func DefaultConfigPath() string {
	return filepath.Join(FerryHomeDir(), ConfigFileName)
}

func DefaultSessionsDir() string {
	return filepath.Join(FerryHomeDir(), SessionsDirName)
}

func DefaultDownloadDir() string {
	return filepath.Join(FerryHomeDir(), "downloads")
}

func DefaultLogFile() string {
	return filepath.Join(FerryHomeDir(), "logs", "ferry.log")
}
