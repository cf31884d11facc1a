package log

const (
	DefaultPattern    = "%time [%level] %field %msg\n"
	DefaultTimeLayout = "2006-01-02 15:04:05.000"
)

type Config struct {
	Level   string     `mapstructure:"level" yaml:"level"`
	Format  string     `mapstructure:"format" yaml:"format"` // text | json
	Pattern string     `mapstructure:"pattern" yaml:"pattern,omitempty"`
	Time    string     `mapstructure:"time" yaml:"time,omitempty"`
	Caller  bool       `mapstructure:"caller" yaml:"caller,omitempty"`
	File    FileConfig `mapstructure:"file" yaml:"file"`
}

type FileConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Filename   string `mapstructure:"filename" yaml:"filename,omitempty"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size,omitempty"` // MB
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups,omitempty"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age,omitempty"` // days
	Compress   bool   `mapstructure:"compress" yaml:"compress,omitempty"`
}
