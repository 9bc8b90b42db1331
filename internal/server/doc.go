// 版权所有 2024 Perspectra Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP/HTTPS 服务器生命周期管理，支持非阻塞启动与优雅关闭。

# 核心类型

  - Manager：封装 http.Server 与 net.Listener，提供 Start、Run、
    Shutdown 与异步错误通道。
  - Config：监听地址、读写与空闲超时、最大请求头、关闭超时，
    以及可选的证书文件（经由 internal/tlsutil 加载）。

# 用法

Run 适合放入 errgroup：ctx 取消（例如收到 SIGTERM）后优雅关闭，
服务异常退出时返回错误。API 与 metrics 两个端口各用一个 Manager。
*/
package server
