package constants

import "os"

// Project layout constants (host side)
const (
	// ConfigFileName is the file name of every configuration layer.
	ConfigFileName = "config.yaml"

	// SystemDir holds the system layer and system infrastructure.
	SystemDir = "system"

	// SharedDir holds the shared layer and user preferences.
	SharedDir = "shared"

	// LocalDir holds habitat-specific infrastructure inside the container.
	LocalDir = "local"

	// HabitatsDir contains one directory per habitat.
	HabitatsDir = "habitats"
)

// Container layout constants
const (
	// HabitatDirName is the nested infrastructure directory under the
	// workspace root.
	HabitatDirName = "habitat"

	// EnvProfilePath is where the env phase writes exported variables.
	EnvProfilePath = "/etc/profile.d/habitat-env.sh"
)

// Docker-related constants
const (
	// DefaultBaseImageName is used when a config declares no image tag.
	DefaultBaseImageName = "claude-habitat"

	// PreparedTagSeparator joins a base tag and a cache hash.
	PreparedTagSeparator = "-prepared-"

	// ContainerPrefix prefixes every container this tool creates.
	ContainerPrefix = "habitat"

	// LabelCacheHash is the image label holding the cache hash.
	LabelCacheHash = "habitat.cache-hash"

	// LabelHabitat is the image label holding the habitat name.
	LabelHabitat = "habitat.name"

	// LabelSession marks a session container with its session id.
	LabelSession = "habitat.session"
)

// Configuration keys
const (
	// ConfigPathKey is the internal key recording where a config was
	// loaded from. Internal keys start with "_" and never affect the
	// cache hash.
	ConfigPathKey = "_configPath"
)

// State constants
const (
	// StateDirName is the per-user state directory under $HOME.
	StateDirName = ".claude-habitat"

	// LastUsedFileName records the last used config path.
	LastUsedFileName = "last-used.toml"
)

// Cache hash constants
const (
	// CacheHashLength is the number of hex characters in a cache hash.
	CacheHashLength = 12
)

// File permissions
const (
	// DirPermissions is the default permission mode for directories.
	DirPermissions os.FileMode = 0755

	// FilePermissions is the default permission mode for state files.
	FilePermissions os.FileMode = 0600
)
