package bootstrap

import (
	"bytes"
	"os"

	"github.com/dimiro1/banner"
)

func PrintBanner() {
	tpl := "{{ .Title \"RTMS SENTIMENT\" \"\" 0 }}\nVersion: " + version + "\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}
