// Package config 提供 Perspectra 的配置管理功能。
//
// 包含配置加载（默认值 → YAML 文件 → 环境变量）、校验，
// 以及基于轮询的配置文件热重载。
package config
