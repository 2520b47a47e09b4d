package classifier

// DefaultRules returns the built-in vocabulary. The reason order is fixed:
// the first matching rule wins.
func DefaultRules() Rules {
	return Rules{
		Failure: []string{"失败", "异常", "错误", "failure", "failed", "exception", "error"},
		Success: []string{
			"成功", "完成", "已打卡", "已签到", "考勤正常", "正常",
			"success", "complete", "checked-in", "checked in", "normal", "already signed", "attendance normal",
		},
		Reasons: []ReasonRule{
			{Reason: ReasonNetwork, Label: "网络异常", Keywords: []string{"网络", "断网", "network"}},
			{Reason: ReasonWindow, Label: "不在打卡时间范围内", Keywords: []string{"不在打卡时间", "未到打卡时间", "已过打卡时间", "打卡时间", "time window", "outside window"}},
			{Reason: ReasonAlreadyDone, Label: "今日已打卡", Keywords: []string{"已打卡", "重复打卡", "already"}},
			{Reason: ReasonLocation, Label: "定位异常", Keywords: []string{"定位", "位置", "范围外", "考勤范围", "gps", "location"}},
			{Reason: ReasonPermission, Label: "权限不足", Keywords: []string{"权限", "permission", "denied"}},
			{Reason: ReasonAuth, Label: "登录状态失效", Keywords: []string{"登录", "认证", "会话", "过期", "login", "session", "auth", "token"}},
			{Reason: ReasonServerBusy, Label: "服务器繁忙", Keywords: []string{"繁忙", "服务器", "稍后重试", "busy", "server"}},
			{Reason: ReasonBiometric, Label: "人脸识别失败", Keywords: []string{"人脸", "刷脸", "面部", "face", "biometric"}},
			{Reason: ReasonSSID, Label: "未连接指定WiFi", Keywords: []string{"wifi", "wi-fi", "ssid", "无线"}},
			{Reason: ReasonGeneric, Label: "系统错误", Keywords: []string{"错误", "异常", "error", "exception"}},
		},
	}
}
