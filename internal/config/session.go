package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Session holds the platform credentials read once at start.
type Session struct {
	AppKey   string
	Username string
	Password string
}

func (s Session) Complete() bool {
	return s.AppKey != "" && s.Username != "" && s.Password != ""
}

// LoadSession reads the [session] section of an INI credentials file and
// applies RDP_APP_KEY, RDP_USERNAME and RDP_PASSWORD on top. A missing file is
// not an error when the environment supplies the values.
func LoadSession(path string) (Session, error) {
	var s Session
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("ini")
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return s, fmt.Errorf("read session file %s: %w", path, err)
			}
		} else {
			s.AppKey = v.GetString("session.app_key")
			s.Username = v.GetString("session.user")
			s.Password = v.GetString("session.password")
		}
	}

	if val := os.Getenv("RDP_APP_KEY"); val != "" {
		s.AppKey = val
	}
	if val := os.Getenv("RDP_USERNAME"); val != "" {
		s.Username = val
	}
	if val := os.Getenv("RDP_PASSWORD"); val != "" {
		s.Password = val
	}
	return s, nil
}
