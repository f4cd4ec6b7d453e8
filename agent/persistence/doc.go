// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 persistence 为协议审计日志和任务历史提供可选的存储后端。

# 概述

协议的审计日志本身保存在内存中并有上限；MessageStore 把每条消息镜像一份，
便于跨进程查看。TaskStore 记录编排器中任务的最终结果（完成、升级、失败）。
两者都不是持久队列，进程重启后不会重放任何任务。

# 核心接口

  - Store: 所有存储的基础接口，提供 Close 和 Ping 健康检查。
  - MessageStore: 追加写入的消息日志，支持按发送方、接收方、类型过滤。
  - TaskStore: 以任务 ID 为键的快照存储，SaveTask 为 upsert 语义。

# 后端

  - memory: 开发与测试默认后端
  - redis: 消息日志镜像（go-redis，有序集合 + JSON 字符串）
  - sql: 任务历史（gorm，支持 postgres、mysql、sqlite）
  - none: 关闭对应存储

通过 NewMessageStore / NewTaskStore 按 StoreConfig 创建。
*/
package persistence
