package main

func main() {
	// 开始安全退出任务
	ctx := InitSafeExit()
	err := Root().ExecuteContext(ctx)
	SafeExitInst.Close()
	exitOnError(err)
}
