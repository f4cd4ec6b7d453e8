// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package telemetry 封装 OpenTelemetry SDK 的初始化与 span 辅助函数。

# 概述

Init 按配置安装全局 TracerProvider 与 MeterProvider，经 OTLP gRPC 导出；
禁用时保持 noop，不连接任何外部服务。编排器的 submit_task、
execute_with_supervisor 与议会的 vote 通过 StartSpan / EndSpan 记录 span，
属性键统一定义为 Attr* 常量。
*/
package telemetry
