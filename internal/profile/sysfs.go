package profile

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/sys/unix"

	"codeberg.org/mutker/profilectl/internal/errors"
)

// DefaultPath is the ACPI platform profile node.
const DefaultPath = "/sys/firmware/acpi/platform_profile"

const choicesFile = "platform_profile_choices"

// Sink accepts profile writes.
type Sink interface {
	Write(p Profile) error
}

// Sysfs is the platform profile node and its sibling choices file.
type Sysfs struct {
	path    string
	choices string
}

// NewSysfs returns a sink for the node at path, or DefaultPath when empty.
func NewSysfs(path string) *Sysfs {
	if path == "" {
		path = DefaultPath
	}

	return &Sysfs{
		path:    path,
		choices: filepath.Join(filepath.Dir(path), choicesFile),
	}
}

func (s *Sysfs) Path() string {
	return s.path
}

// Read returns the profile currently in effect.
func (s *Sysfs) Read() (Profile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", errors.New().Wrap(ErrReadProfile, err)
	}

	return Profile(strings.TrimSpace(string(data))), nil
}

// Write asserts p. The node takes the value in a single write.
func (s *Sysfs) Write(p Profile) error {
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return errors.New().Wrap(ErrActuation, err)
	}

	if _, err := f.WriteString(p.String()); err != nil {
		f.Close()
		return errors.New().Wrap(ErrActuation, err)
	}

	if err := f.Close(); err != nil {
		return errors.New().Wrap(ErrActuation, err)
	}

	return nil
}

// Choices lists the profiles the firmware accepts.
func (s *Sysfs) Choices() ([]Profile, error) {
	data, err := os.ReadFile(s.choices)
	if err != nil {
		return nil, errors.New().Wrap(ErrReadChoices, err)
	}

	fields := strings.Fields(string(data))
	choices := make([]Profile, 0, len(fields))
	for _, f := range fields {
		choices = append(choices, Profile(f))
	}

	return choices, nil
}

// Supports fails unless every profile in want is among the firmware choices.
func (s *Sysfs) Supports(want ...Profile) error {
	choices, err := s.Choices()
	if err != nil {
		return err
	}

	for _, p := range want {
		if !slices.Contains(choices, p) {
			return errors.New().WithData(ErrUnsupportedProfile, struct {
				Profile string
				Choices []Profile
			}{p.String(), choices})
		}
	}

	return nil
}

// CheckWritable fails unless the calling process may write the node.
func (s *Sysfs) CheckWritable() error {
	if err := unix.Access(s.path, unix.W_OK); err != nil {
		return errors.New().Wrap(ErrPermission, err).WithData(struct {
			Path string
			EUID int
		}{s.path, unix.Geteuid()})
	}

	return nil
}
