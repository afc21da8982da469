// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// Config is the unmarshal target for the viper-managed configuration file.
type Config struct {
	Version string

	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	BaseURL string `mapstructure:"baseUrl"`

	LogLevel      string `mapstructure:"logLevel"`
	LogPath       string `mapstructure:"logPath"`
	LogMaxSize    int    `mapstructure:"logMaxSize"`
	LogMaxBackups int    `mapstructure:"logMaxBackups"`

	ShokoURL    string `mapstructure:"shokoUrl"`
	ShokoAPIKey string `mapstructure:"shokoApiKey"`

	NyaaURL string `mapstructure:"nyaaUrl"`

	NtfyURL  string `mapstructure:"ntfyUrl"`
	NtfyAuth string `mapstructure:"ntfyAuth"`

	// APIBaseURL is the externally reachable base URL of this server,
	// embedded in notification action buttons.
	APIBaseURL    string `mapstructure:"apiBaseUrl"`
	DownloadToken string `mapstructure:"downloadToken"`

	QbittorrentURL      string `mapstructure:"qbittorrentUrl"`
	QbittorrentUsername string `mapstructure:"qbittorrentUsername"`
	QbittorrentPassword string `mapstructure:"qbittorrentPassword"`

	IgnoredGroups []string `mapstructure:"ignoredGroups"`

	RSSCheckInterval string `mapstructure:"rssCheckInterval"`
	FinalCheckCron   string `mapstructure:"finalCheckCron"`
	DailyCleanupCron string `mapstructure:"dailyCleanupCron"`

	MetricsEnabled bool   `mapstructure:"metricsEnabled"`
	MetricsHost    string `mapstructure:"metricsHost"`
	MetricsPort    int    `mapstructure:"metricsPort"`
}
