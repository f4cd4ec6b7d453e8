// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package config 汇总 AgentCouncil 各组件的配置，并提供加载与校验。

加载顺序为默认值、YAML 文件、环境变量。环境变量名由前缀与 env 标签拼接，
例如 AGENTCOUNCIL_COUNCIL_STRATEGY、AGENTCOUNCIL_POOL_MAX_WORKERS。
切片使用逗号分隔，ModelWeights 使用 "model=weight,model2=weight2"。
agents 列表只能在 YAML 中配置。

Load 在返回前调用 Config.Validate，配置冲突会立即报错（INVALID_CONFIG）。
*/
package config
