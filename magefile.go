//go:build mage
// +build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

var Default = Build

// Build собирает шлюз и клиент в ./bin.
func Build() error {
	mg.Deps(Vet)
	for _, bin := range []string{"vidcon-server", "vidcon"} {
		if err := sh.RunV("go", "build", "-o", "bin/"+bin, "./cmd/"+bin); err != nil {
			return fmt.Errorf("build %s: %w", bin, err)
		}
	}
	return nil
}

// BuildFake: клиент с тестовыми источниками вместо устройств.
func BuildFake() error {
	return sh.RunV("go", "build", "-tags", "fakedevices", "-o", "bin/vidcon-fake", "./cmd/vidcon")
}

func Vet() error {
	return sh.RunV("go", "vet", "./...")
}

func Test() error {
	return sh.RunV("go", "test", "-race", "-count=1", "./...")
}

// Run поднимает шлюз с конфигом из CONFIG_PATH или ./config/config.yaml.
func Run() error {
	mg.Deps(Build)
	return sh.RunV("./bin/vidcon-server")
}
