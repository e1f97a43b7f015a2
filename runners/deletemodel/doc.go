/*
Package deletemodel 实现删除内容模型的长任务。

一次删除分三个阶段：条目（entries）、文件夹（folders）、模型本身（model）。
每个阶段按 id 升序分页删除，游标 lastDeletedId 保存在任务输入中，重复投递
同一游标不会重复删除。条目清空后会从头再探测一次，若发现新条目则延迟
ReprobeDelay 后重新核对，超过 MaxReprobes 次后直接在本次调用内删除。

互斥通过检查点 deletingModel#<modelId> 实现：Service.FullyDeleteModel
在已有检查点时返回 ALREADY_BEING_DELETED；任务结束、失败或被取消时移除
检查点。
*/
package deletemodel
