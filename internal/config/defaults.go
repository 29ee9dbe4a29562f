package config

const (
	defaultConfigPath           = "~/.config/daqpull/config.toml"
	defaultStagingDir           = "~/.local/share/daqpull/tmp"
	defaultStorageDir           = "~/.local/share/daqpull/storage"
	defaultStateDir             = "~/.local/share/daqpull/state"
	defaultLogDir               = "~/.local/share/daqpull/logs"
	defaultReportName           = "statistics.txt"
	defaultSSHKeyPath           = "~/.ssh/id_ed25519"
	defaultRsyncBinary          = "rsync"
	defaultSSHBinary            = "ssh"
	defaultRemoteRoot           = "/energy-daq/files"
	defaultLivePrefix           = "ram"
	defaultPersistedPrefix      = "persisted"
	defaultFileExtension        = ".hdf5"
	defaultListTimeout          = 15
	defaultIOTimeout            = 30
	defaultTransferTimeout      = 1800
	defaultPollInterval         = 30
	defaultPollJitter           = 30
	defaultExtendedSleep        = 60
	defaultExtendedJitter       = 60
	defaultFilePause            = 5
	defaultLiveBacklogThreshold = 2
	defaultMinFreeStagingGiB    = 4
	defaultMinFreeStorageGiB    = 4
	defaultSpaceRetryInterval   = 300
	defaultStageTimeout         = 1800
	defaultErrorRetryInterval   = 10
	defaultStuckRunLength       = 500
	defaultAlertTransport       = AlertTransportLog
	defaultAlertSubjectPrefix   = "[Energy-DAQ]"
	defaultAlertRequestTimeout  = 10
	defaultAlertDedupWindow     = 600
	defaultMetricsBind          = "127.0.0.1:9468"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 60
)

// Alert transports accepted by alerts.transport.
const (
	AlertTransportLog  = "log"
	AlertTransportSMTP = "smtp"
	AlertTransportNtfy = "ntfy"
)

func defaultUnreachableBackoff() []int {
	return []int{30, 60, 90, 120, 180, 240, 300}
}

// Default returns a Config populated with repository defaults.
// The fleet table is empty; units come from the configuration file.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			StorageDir: defaultStorageDir,
			StateDir:   defaultStateDir,
			LogDir:     defaultLogDir,
		},
		Transfer: Transfer{
			SSHKeyPath:      defaultSSHKeyPath,
			RsyncBinary:     defaultRsyncBinary,
			SSHBinary:       defaultSSHBinary,
			RemoteRoot:      defaultRemoteRoot,
			LivePrefix:      defaultLivePrefix,
			PersistedPrefix: defaultPersistedPrefix,
			FileExtension:   defaultFileExtension,
			ListTimeout:     defaultListTimeout,
			IOTimeout:       defaultIOTimeout,
			TransferTimeout: defaultTransferTimeout,
		},
		Collector: Collector{
			PollInterval:         defaultPollInterval,
			PollJitter:           defaultPollJitter,
			ExtendedSleep:        defaultExtendedSleep,
			ExtendedJitter:       defaultExtendedJitter,
			FilePause:            defaultFilePause,
			UnreachableBackoff:   defaultUnreachableBackoff(),
			LiveBacklogThreshold: defaultLiveBacklogThreshold,
		},
		Space: Space{
			MinFreeStagingGiB: defaultMinFreeStagingGiB,
			MinFreeStorageGiB: defaultMinFreeStorageGiB,
			RetryInterval:     defaultSpaceRetryInterval,
		},
		Workflow: Workflow{
			StageTimeout:       defaultStageTimeout,
			ErrorRetryInterval: defaultErrorRetryInterval,
		},
		Verification: Verification{
			StuckRunLength: defaultStuckRunLength,
		},
		Alerts: Alerts{
			Transport:          defaultAlertTransport,
			SubjectPrefix:      defaultAlertSubjectPrefix,
			RequestTimeout:     defaultAlertRequestTimeout,
			DedupWindowSeconds: defaultAlertDedupWindow,
		},
		Metrics: Metrics{
			Bind: defaultMetricsBind,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
