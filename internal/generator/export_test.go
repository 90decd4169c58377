package generator

var FindLoop = findLoop
