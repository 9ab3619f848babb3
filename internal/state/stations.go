package state

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/ja-mf/raddaemon/internal/protocol"
)

// ParseM3U parses a minimal #EXTM3U playlist: an #EXTINF line names the
// track that follows it, and any non-comment line is a station URL.
func ParseM3U(content string) []protocol.Station {
	var stations []protocol.Station
	var pendingName string

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "#EXTINF:"); ok {
			if idx := strings.IndexByte(rest, ','); idx >= 0 {
				pendingName = strings.TrimSpace(rest[idx+1:])
			}
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}

		name := pendingName
		if name == "" {
			name = line
		}
		pendingName = ""
		stations = append(stations, protocol.Station{Name: name, URL: line})
	}
	return stations
}

// LoadStationsM3U reads and parses an M3U playlist file.
func LoadStationsM3U(path string) ([]protocol.Station, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("state: read m3u %s: %w", path, err)
	}
	return ParseM3U(string(content)), nil
}

// tomlStationFile mirrors the `[[station]]` table shape. Kept separate from
// protocol.Station so the on-disk schema can diverge from the wire type.
type tomlStationFile struct {
	Station []tomlStation `toml:"station"`
}

type tomlStation struct {
	Name        string   `toml:"name"`
	URL         string   `toml:"url"`
	Network     string   `toml:"network"`
	Description string   `toml:"description"`
	Tags        []string `toml:"tags"`
	City        string   `toml:"city"`
	Country     string   `toml:"country"`
}

// ParseStationsTOML parses a station list expressed as repeated
// `[[station]]` tables.
func ParseStationsTOML(content []byte) ([]protocol.Station, error) {
	var file tomlStationFile
	if err := toml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("state: unmarshal toml stations: %w", err)
	}

	stations := make([]protocol.Station, 0, len(file.Station))
	for _, s := range file.Station {
		stations = append(stations, protocol.Station{
			Name:        s.Name,
			URL:         s.URL,
			Network:     s.Network,
			City:        s.City,
			Country:     s.Country,
			Description: s.Description,
			Tags:        s.Tags,
		})
	}
	return stations, nil
}

// LoadStationsTOML reads and parses a TOML station list file.
func LoadStationsTOML(path string) ([]protocol.Station, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("state: read toml %s: %w", path, err)
	}
	return ParseStationsTOML(content)
}

// LoadStations dispatches on file extension: ".m3u"/".m3u8" to the M3U
// parser, anything else to TOML.
func LoadStations(path string) ([]protocol.Station, error) {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".m3u") || strings.HasSuffix(lower, ".m3u8") {
		return LoadStationsM3U(path)
	}
	return LoadStationsTOML(path)
}
