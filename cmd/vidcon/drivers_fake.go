//go:build fakedevices

package main

// тестовые источники для прогонов без устройств
import (
	_ "github.com/pion/mediadevices/pkg/driver/audiotest"
	_ "github.com/pion/mediadevices/pkg/driver/videotest"
)
