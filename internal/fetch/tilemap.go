package fetch

import (
	"strconv"
	"strings"

	"github.com/paulmach/orb/maptile"
)

// TileMap describes the remote tile set: a display name, the URL template,
// and the file format written to the cache.
type TileMap struct {
	Name   string
	URL    string
	Format string
}

// TileURL expands the URL template for one tile. The template uses {z}, {x}
// and {y} placeholders, e.g. https://tile.openstreetmap.org/{z}/{x}/{y}.png
func (m TileMap) TileURL(t maptile.Tile) string {
	url := strings.Replace(m.URL, "{x}", strconv.Itoa(int(t.X)), -1)
	url = strings.Replace(url, "{y}", strconv.Itoa(int(t.Y)), -1)
	url = strings.Replace(url, "{z}", strconv.Itoa(int(t.Z)), -1)
	return url
}
